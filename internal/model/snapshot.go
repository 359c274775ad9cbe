package model

import (
	"fmt"
	"strconv"
	"time"
)

// SystemSnapshot is a one-shot read of static host facts.
type SystemSnapshot struct {
	CPUName      string
	Processor    string // vendor / family string
	CPUCount     int    // logical cores
	RAMGB        int    // rounded GiB
	DiskGB       int    // rounded GiB of the root volume
	OSName       string
	OSVersion    string
	Architecture string
	Hostname     string
	GoVersion    string
	TakenAt      time.Time
}

// Field is one labelled line of a rendered snapshot.
type Field struct {
	Label string
	Value string
}

// Fields returns the snapshot as ordered label/value pairs.
func (s SystemSnapshot) Fields() []Field {
	return []Field{
		{"CPU Name", orUnknown(s.CPUName)},
		{"CPU Info", orUnknown(s.Processor)},
		{"CPU Count", strconv.Itoa(s.CPUCount)},
		{"RAM Amount", fmt.Sprintf("%d GB", s.RAMGB)},
		{"Storage Total", fmt.Sprintf("%d GB", s.DiskGB)},
		{"System", orUnknown(s.OSName)},
		{"Exact Version", orUnknown(s.OSVersion)},
		{"Architecture", orUnknown(s.Architecture)},
		{"Hostname", orUnknown(s.Hostname)},
		{"Go Version", orUnknown(s.GoVersion)},
	}
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
