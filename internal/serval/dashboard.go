package serval

// MeasurementStatus is the acquisition state SERVAL reports on its dashboard.
type MeasurementStatus string

const (
	StatusIdle      MeasurementStatus = "DA_IDLE"
	StatusPreparing MeasurementStatus = "DA_PREPARING"
	StatusRecording MeasurementStatus = "DA_RECORDING"
	StatusStopping  MeasurementStatus = "DA_STOPPING"
)

// DiskSpaceInfo describes one output destination's disk headroom.
type DiskSpaceInfo struct {
	Message          string  `json:"Message"`
	Path             string  `json:"Path"`
	FreeSpace        int64   `json:"FreeSpace"`
	WriteSpeed       float64 `json:"WriteSpeed,omitempty"`
	LowerLimit       int64   `json:"LowerLimit,omitempty"`
	DiskLimitReached bool    `json:"DiskLimitReached,omitempty"`
}

// Notification is a server/detector/chip level message on the dashboard.
type Notification struct {
	Type        string `json:"Type"`   // update, info, severe, error
	Domain      string `json:"Domain"` // server, detector, chip
	Message     string `json:"Message"`
	ReferenceID string `json:"ReferenceID,omitempty"`
	Timestamp   int64  `json:"Timestamp,omitempty"`
}

type DashboardServer struct {
	SoftwareVersion   string          `json:"SoftwareVersion,omitempty"`
	SoftwareTimestamp string          `json:"SoftwareTimestamp,omitempty"`
	SoftwareCommit    string          `json:"SoftwareCommit,omitempty"`
	SoftwareBuild     string          `json:"SoftwareBuild,omitempty"`
	DiskSpace         []DiskSpaceInfo `json:"DiskSpace,omitempty"`
	Notifications     []Notification  `json:"Notifications,omitempty"`
}

type DashboardMeasurement struct {
	StartDateTime  int64             `json:"StartDateTime,omitempty"` // UNIX timestamp (ms)
	TimeLeft       float64           `json:"TimeLeft,omitempty"`
	ElapsedTime    float64           `json:"ElapsedTime,omitempty"`
	FrameCount     int64             `json:"FrameCount,omitempty"`
	DroppedFrames  int64             `json:"DroppedFrames,omitempty"`
	Status         MeasurementStatus `json:"Status,omitempty"`
	PixelEventRate int64             `json:"PixelEventRate,omitempty"`
	Tdc1EventRate  int64             `json:"Tdc1EventRate,omitempty"`
	Tdc2EventRate  int64             `json:"Tdc2EventRate,omitempty"`
}

type DashboardDetector struct {
	DetectorType string `json:"DetectorType,omitempty"` // e.g. "Tpx3"
}

// Dashboard is the GET /dashboard document. Sections are optional; SERVAL
// omits what it has nothing to say about.
type Dashboard struct {
	Server      *DashboardServer      `json:"Server,omitempty"`
	Measurement *DashboardMeasurement `json:"Measurement,omitempty"`
	Detector    *DashboardDetector    `json:"Detector,omitempty"`
}

// Recording reports whether an acquisition is in progress.
func (d *Dashboard) Recording() bool {
	return d != nil && d.Measurement != nil && d.Measurement.Status == StatusRecording
}

// SoftwareVersion returns the server-reported version, or "".
func (d *Dashboard) SoftwareVersion() string {
	if d == nil || d.Server == nil {
		return ""
	}
	return d.Server.SoftwareVersion
}

// DetectorType returns the attached detector type, or "".
func (d *Dashboard) DetectorType() string {
	if d == nil || d.Detector == nil {
		return ""
	}
	return d.Detector.DetectorType
}
