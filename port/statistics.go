package port

import (
	"sync/atomic"
)

type StatisticsItem struct {
	Count uint64 `json:",omitempty" yaml:"count,omitempty"`
	Bytes uint64 `json:",omitempty" yaml:"bytes,omitempty"`
}

// Statistics is a snapshot of what went through a port.
type Statistics struct {
	Delivered        StatisticsItem `yaml:"delivered"`
	Sent             StatisticsItem `yaml:"sent"`
	Relayed          StatisticsItem `yaml:"relayed,omitempty"`
	Resubmitted      uint64         `yaml:"resubmitted"`
	Starved          uint64         `yaml:"starved,omitempty"`
	ResubmitFailures uint64         `yaml:"resubmit_failures,omitempty"`
	SendFailures     uint64         `yaml:"send_failures,omitempty"`
	RelayDropped     uint64         `yaml:"relay_dropped,omitempty"`
}

type CountersItem struct {
	Count atomic.Uint64
	Bytes atomic.Uint64
}

func (c *CountersItem) Increment(msgSize uint64) {
	c.Count.Add(1)
	c.Bytes.Add(msgSize)
}

func (c *CountersItem) ToStats() StatisticsItem {
	return StatisticsItem{
		Count: c.Count.Load(),
		Bytes: c.Bytes.Load(),
	}
}

type Counters struct {
	Delivered        CountersItem
	Sent             CountersItem
	Relayed          CountersItem
	Resubmitted      atomic.Uint64
	Starved          atomic.Uint64
	ResubmitFailures atomic.Uint64
	SendFailures     atomic.Uint64
	RelayDropped     atomic.Uint64
}

func (c *Counters) ToStats() Statistics {
	return Statistics{
		Delivered:        c.Delivered.ToStats(),
		Sent:             c.Sent.ToStats(),
		Relayed:          c.Relayed.ToStats(),
		Resubmitted:      c.Resubmitted.Load(),
		Starved:          c.Starved.Load(),
		ResubmitFailures: c.ResubmitFailures.Load(),
		SendFailures:     c.SendFailures.Load(),
		RelayDropped:     c.RelayDropped.Load(),
	}
}
