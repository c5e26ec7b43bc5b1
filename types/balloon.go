package types

import "github.com/projecteru2/pupa/errdefs"

// Balloon is the /balloon payload: the virtio memory balloon device.
type Balloon struct {
	AmountMib             int  `json:"amount_mib"`
	DeflateOnOom          bool `json:"deflate_on_oom,omitempty"`
	StatsPollingIntervalS int  `json:"stats_polling_interval_s,omitempty"`
}

// NewBalloon validates and returns a balloon device config.
func NewBalloon(amountMib int, deflateOnOom bool, statsIntervalS int) (Balloon, error) {
	b := Balloon{AmountMib: amountMib, DeflateOnOom: deflateOnOom, StatsPollingIntervalS: statsIntervalS}
	return b, b.Validate()
}

// Validate checks the balloon invariants.
func (b Balloon) Validate() error {
	switch {
	case b.AmountMib < 0:
		return errdefs.InvalidRange("amount_mib", "must be >= 0")
	case b.StatsPollingIntervalS < 0:
		return errdefs.InvalidRange("stats_polling_interval_s", "must be >= 0")
	}
	return nil
}

// BalloonUpdate is the PATCH /balloon payload: resize a live balloon.
type BalloonUpdate struct {
	AmountMib int `json:"amount_mib"`
}

// BalloonStats is the GET /balloon/statistics response.
type BalloonStats struct {
	TargetMib   int   `json:"target_mib"`
	ActualMib   int   `json:"actual_mib"`
	TargetPages int64 `json:"target_pages"`
	ActualPages int64 `json:"actual_pages"`

	// Guest-reported memory counters, bytes.
	FreeMemory      int64 `json:"free_memory,omitempty"`
	TotalMemory     int64 `json:"total_memory,omitempty"`
	AvailableMemory int64 `json:"available_memory,omitempty"`
}
