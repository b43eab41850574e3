// Package store persists flow accumulator snapshots as JSON files.
// Writes are atomic: a crash mid-save leaves the previous snapshot in place.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sweeney/flow-sensor/internal/flow"
)

// Document is the on-disk representation of a flow.State.
// Pointer fields distinguish a missing key from a zero value.
type Document struct {
	TotalEvents     *int64   `json:"totalEvents"`
	TotalPourEvents *int64   `json:"totalPourEvents"`
	TotalPourTime   *float64 `json:"totalPourTime"`
	TotalFrequency  *float64 `json:"totalFrequency"`
	TotalFlowRate   *float64 `json:"totalFlowRate"`
	TotalPour       *float64 `json:"totalPour"`
	RemainingVolume *float64 `json:"remainingVolume"`
	FlowConstant    *float64 `json:"flowConstant,omitempty"`
}

// NewDocument converts a state into its persisted form.
func NewDocument(s flow.State) Document {
	d := Document{
		TotalEvents:     &s.TotalEvents,
		TotalPourEvents: &s.TotalPourEvents,
		TotalPourTime:   &s.TotalPourTime,
		TotalFrequency:  &s.TotalFrequency,
		TotalFlowRate:   &s.TotalFlowRate,
		TotalPour:       &s.TotalPour,
		RemainingVolume: &s.RemainingVolume,
	}
	if s.FlowConstant > 0 {
		d.FlowConstant = &s.FlowConstant
	}
	return d
}

// State validates that every required key is present and returns the state.
func (d Document) State() (flow.State, error) {
	var missing []string
	req := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}
	req("totalEvents", d.TotalEvents != nil)
	req("totalPourEvents", d.TotalPourEvents != nil)
	req("totalPourTime", d.TotalPourTime != nil)
	req("totalFrequency", d.TotalFrequency != nil)
	req("totalFlowRate", d.TotalFlowRate != nil)
	req("totalPour", d.TotalPour != nil)
	req("remainingVolume", d.RemainingVolume != nil)
	if len(missing) > 0 {
		return flow.State{}, fmt.Errorf("%w: missing fields %v", flow.ErrInvalidState, missing)
	}

	s := flow.State{
		TotalEvents:     *d.TotalEvents,
		TotalPourEvents: *d.TotalPourEvents,
		TotalPourTime:   *d.TotalPourTime,
		TotalFrequency:  *d.TotalFrequency,
		TotalFlowRate:   *d.TotalFlowRate,
		TotalPour:       *d.TotalPour,
		RemainingVolume: *d.RemainingVolume,
	}
	if d.FlowConstant != nil {
		s.FlowConstant = *d.FlowConstant
	}
	return s, nil
}

// Encode writes s as indented JSON.
func Encode(w io.Writer, s flow.State) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(s)); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return nil
}

// Decode reads a state document. Unparsable input and missing keys are
// reported as flow.ErrInvalidState.
func Decode(r io.Reader) (flow.State, error) {
	var d Document
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return flow.State{}, fmt.Errorf("%w: decode: %v", flow.ErrInvalidState, err)
	}
	return d.State()
}

// Load reads the snapshot at path. A missing file is returned as an error
// wrapping os.ErrNotExist so callers can choose to seed a fresh state.
func Load(path string) (flow.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return flow.State{}, fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return flow.State{}, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

// Save atomically replaces the snapshot at path: the state is written to a
// temporary file in the same directory, synced, and renamed over path.
func Save(path string, s flow.State) error {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	committed = true

	// Persist the rename itself. Not all platforms support syncing a directory.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// IsNotExist reports whether err means the snapshot file does not exist yet.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
