package aggregate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/temoto/ar844/hardware/ar844"
)

const TimeFormat = "2006-01-02T15:04:05Z"

// Snapshot is the summary of one window, levels in tenths of dB.
type Snapshot struct {
	End       time.Time
	Avg       uint16
	Min       uint16
	Max       uint16
	Count     uint32
	Weighting ar844.Weighting
}

// Tenths renders fixed point decibels as "tens.ones" JSON number, truncated never rounded.
type Tenths uint16

func (t Tenths) String() string { return fmt.Sprintf("%d.%d", uint16(t)/10, uint16(t)%10) }

func (t Tenths) MarshalJSON() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tenths) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*t = Tenths(f*10 + 0.5)
	return nil
}

// WeightLabel is published weighting name, non-A curve is published as "Z".
func WeightLabel(w ar844.Weighting) string {
	if w == ar844.WeightingA {
		return "A"
	}
	return "Z"
}

type payload struct {
	Time   string `json:"time"`
	Avg    Tenths `json:"avg"`
	Min    Tenths `json:"min"`
	Max    Tenths `json:"max"`
	Weight string `json:"weight"`
}

func (s Snapshot) Payload() ([]byte, error) {
	return json.Marshal(payload{
		Time:   s.End.UTC().Format(TimeFormat),
		Avg:    Tenths(s.Avg),
		Min:    Tenths(s.Min),
		Max:    Tenths(s.Max),
		Weight: WeightLabel(s.Weighting),
	})
}

func (s Snapshot) String() string {
	return fmt.Sprintf("end=%s avg=%s min=%s max=%s weight=%s count=%d",
		s.End.UTC().Format(TimeFormat), Tenths(s.Avg), Tenths(s.Min), Tenths(s.Max), WeightLabel(s.Weighting), s.Count)
}
