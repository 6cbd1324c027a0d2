package project

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"autolevel/common/logger"
	"autolevel/common/utils/sys"

	"github.com/tarm/serial"
)

const (
	UNABLE_TO_COMMUN_ERROR = "Unable to communicate with the controller"
	OPEN_SERIAL_DEV_ERROR  = "Unable to open serial port"
	NOT_FOUND_SERIAL_ERROR = "Not found serial port"
	NOT_CONNECTED_ERROR    = "Controller not connected"

	grblReadBufferSize  = 4096
	grblReadTimeout     = 100 * time.Millisecond
	grblReconnectPeriod = time.Second
)

// SerialPort is the subset of *serial.Port the session uses.
type SerialPort interface {
	io.ReadWriteCloser
	Flush() error
}

// GrblCommun is a line oriented session with a GRBL controller over a serial
// port. Operator messages are printed to a local writer, not sent to the
// controller.
type GrblCommun struct {
	name string
	baud int

	lock      sync.Mutex
	port      SerialPort
	connected bool

	messages io.Writer
}

func NewGrblCommun(name string, baud int, messages io.Writer) *GrblCommun {
	self := new(GrblCommun)
	self.name = name
	self.baud = baud
	self.messages = messages
	return self
}

func checkPortExists(fileName string) bool {
	info, err := os.Stat(fileName)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

func (self *GrblCommun) Connect() error {
	if !checkPortExists(self.name) {
		return fmt.Errorf("%s %s", NOT_FOUND_SERIAL_ERROR, self.name)
	}
	cfg := &serial.Config{Name: self.name, Baud: self.baud, ReadTimeout: grblReadTimeout}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		logger.Errorf("%s %s: %s", OPEN_SERIAL_DEV_ERROR, self.name, err)
		return fmt.Errorf("%s %s: %w", OPEN_SERIAL_DEV_ERROR, self.name, err)
	}
	self.Attach(port)
	logger.Infof("connected to %s at %d baud", self.name, self.baud)
	return nil
}

// Attach uses an already open port.
func (self *GrblCommun) Attach(port SerialPort) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.port = port
	self.connected = true
}

func (self *GrblCommun) Disconnect() error {
	self.lock.Lock()
	defer self.lock.Unlock()
	if self.port == nil {
		return nil
	}
	err := self.port.Close()
	self.port = nil
	self.connected = false
	return err
}

func (self *GrblCommun) IsConnected() bool {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.connected
}

func (self *GrblCommun) Name() string {
	return self.name
}

// SendGcode writes every line of block, newline terminated.
func (self *GrblCommun) SendGcode(block string) error {
	self.lock.Lock()
	defer self.lock.Unlock()
	if !self.connected {
		return errors.New(NOT_CONNECTED_ERROR)
	}
	var sb strings.Builder
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		return nil
	}
	logger.Debugf("> %q", sb.String())
	if _, err := io.WriteString(self.port, sb.String()); err != nil {
		return fmt.Errorf("%s: %w", UNABLE_TO_COMMUN_ERROR, err)
	}
	return nil
}

func (self *GrblCommun) SendMessage(msg string) error {
	logger.Infof("%s", msg)
	if self.messages == nil {
		return nil
	}
	_, err := fmt.Fprintln(self.messages, msg)
	return err
}

// LoadProgram announces a compensated program. Streaming it to the
// controller is left to the sender the operator uses.
func (self *GrblCommun) LoadProgram(name, text string) error {
	logger.Infof("program %s ready, %d bytes", name, len(text))
	return self.SendMessage(fmt.Sprintf("(AL: program %s ready, %d lines)", name, strings.Count(text, "\n")+1))
}

func (self *GrblCommun) currentPort() SerialPort {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.port
}

// Run reads the controller until ctx is done, passing every chunk to
// handler. Read timeouts are not errors.
func (self *GrblCommun) Run(ctx context.Context, handler func(data string)) error {
	logger.Debugf("grbl reader on goroutine %d", sys.GetGID())
	buf := make([]byte, grblReadBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		port := self.currentPort()
		if port == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(grblReconnectPeriod):
			}
			continue
		}
		n, err := port.Read(buf)
		if n > 0 {
			handler(string(buf[:n]))
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%s %v", UNABLE_TO_COMMUN_ERROR, err)
		}
	}
}
