package project

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScannerProbeReport(t *testing.T) {
	s := NewReportScanner()
	reports, errs := s.Feed("ok\n[PRB:1.000,2.000,-3.500:1]\nok\n")
	require.Empty(t, errs)
	require.Len(t, reports, 3)
	assert.Equal(t, REPORT_OK, reports[0].Kind)
	assert.Equal(t, ControllerReport{Kind: REPORT_PROBE, Point: Point3{X: 1, Y: 2, Z: -3.5}, HasFlag: true, Success: true}, reports[1])
	assert.Equal(t, REPORT_OK, reports[2].Kind)
}

func TestScannerSplitReads(t *testing.T) {
	s := NewReportScanner()
	reports, _ := s.Feed("[PRB:1.0,2.")
	assert.Empty(t, reports)
	reports, errs := s.Feed("0,3.0,4.0:0]\n")
	require.Empty(t, errs)
	require.Len(t, reports, 1)
	assert.Equal(t, Point3{X: 1, Y: 2, Z: 3}, reports[0].Point)
	assert.False(t, reports[0].Success)

	reports, _ = s.Feed("[PRB:5,6,7]")
	require.Len(t, reports, 1)
	assert.False(t, reports[0].HasFlag)
	assert.True(t, reports[0].Success)
}

func TestScannerOffsets(t *testing.T) {
	s := NewReportScanner()
	reports, errs := s.Feed("<Idle|MPos:0.000,0.000,0.000|FS:0,0|WCO:10.000,20.000,-5.000>\r\n[G54:1.000,2.000,3.000]\n<Idle|MPos:1,1,1|FS:0,0>\n")
	require.Empty(t, errs)
	require.Len(t, reports, 2)
	assert.Equal(t, REPORT_WORK_OFFSET, reports[0].Kind)
	assert.Equal(t, Point3{X: 10, Y: 20, Z: -5}, reports[0].Point)
	assert.Equal(t, REPORT_G54, reports[1].Kind)
	assert.Equal(t, Point3{X: 1, Y: 2, Z: 3}, reports[1].Point)
}

func TestScannerMalformedAndResync(t *testing.T) {
	s := NewReportScanner()
	reports, errs := s.Feed("[PRB:abc,1,2:1]\n[PRB:1,2\n[PRB:1,2[PRB:4,5,6:1]\n[MSG:Reset]\n")
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrMalformedProbeReport))
	require.Len(t, reports, 1)
	assert.Equal(t, Point3{X: 4, Y: 5, Z: 6}, reports[0].Point)
}

func TestScannerOversizedGarbage(t *testing.T) {
	s := NewReportScanner()
	reports, _ := s.Feed("[PRB:" + strings.Repeat("1", 6000))
	assert.Empty(t, reports)
	assert.LessOrEqual(t, len(s.buffer), reportBufferRetain)

	reports, _ = s.Feed("\n[PRB:1,2,3:1]")
	require.Len(t, reports, 1)
	assert.Equal(t, Point3{X: 1, Y: 2, Z: 3}, reports[0].Point)
}

func TestScannerParameterReply(t *testing.T) {
	s := NewReportScanner()
	var kinds []ReportKind
	for _, chunk := range []string{
		"[G54:0.000,0.000,-1.000]\n[G55:0.000,0.000,0.000]\n[G28:0.000,0.000,0.000]\n[G92:0.000,0.000,0.000]\n",
		"[TLO:0.000]\n[PRB:55.000,66.000,-7.000:1]\no",
		"k\r\n<Idle|MPos:0.000,0.000,0.000|FS:0,0>\n",
	} {
		reports, errs := s.Feed(chunk)
		require.Empty(t, errs)
		for _, r := range reports {
			kinds = append(kinds, r.Kind)
		}
	}
	assert.Equal(t, []ReportKind{
		REPORT_G54, REPORT_PARAMETER, REPORT_PARAMETER, REPORT_PARAMETER,
		REPORT_PARAMETER, REPORT_PROBE, REPORT_OK,
	}, kinds)
}

func TestScannerIgnoresOkInsideText(t *testing.T) {
	s := NewReportScanner()
	reports, _ := s.Feed("[MSG:ok]\nbook\nok ok\n")
	assert.Empty(t, reports)
}
