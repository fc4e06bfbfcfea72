package domain

import "time"

// ErrorMetadata holds rolling error statistics for one component.
type ErrorMetadata struct {
	TotalErrors       int               `json:"total_errors"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	FirstErrorAt      *time.Time        `json:"first_error_at,omitempty"`
	LastErrorAt       *time.Time        `json:"last_error_at,omitempty"`
	ByCode            map[ErrorCode]int `json:"by_code"`
	AverageInterval   time.Duration     `json:"average_interval"`
}

// RecordError counts one failure observed at the given time.
func (m *ErrorMetadata) RecordError(code ErrorCode, at time.Time) {
	if m.ByCode == nil {
		m.ByCode = make(map[ErrorCode]int)
	}
	m.TotalErrors++
	m.ConsecutiveErrors++
	m.ByCode[code]++

	if m.FirstErrorAt == nil {
		first := at
		m.FirstErrorAt = &first
	}
	last := at
	m.LastErrorAt = &last

	if m.TotalErrors > 1 {
		m.AverageInterval = m.LastErrorAt.Sub(*m.FirstErrorAt) / time.Duration(m.TotalErrors-1)
	}
}

// RecordSuccess resets the consecutive error counter and nothing else.
func (m *ErrorMetadata) RecordSuccess() {
	m.ConsecutiveErrors = 0
}

// Clone returns a copy that shares no maps or timestamps.
func (m ErrorMetadata) Clone() ErrorMetadata {
	c := m
	if m.FirstErrorAt != nil {
		t := *m.FirstErrorAt
		c.FirstErrorAt = &t
	}
	if m.LastErrorAt != nil {
		t := *m.LastErrorAt
		c.LastErrorAt = &t
	}
	c.ByCode = make(map[ErrorCode]int, len(m.ByCode))
	for k, v := range m.ByCode {
		c.ByCode[k] = v
	}
	return c
}
