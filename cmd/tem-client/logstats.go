package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/tembridge/tembridge-go/pkg/log"
)

// captureStats aggregates a protocol capture.
type captureStats struct {
	total       int
	byLayer     map[log.Layer]int
	byCategory  map[log.Category]int
	connections map[string]*connStats
	selectors   map[string]*selectorStats
	errors      int
	start, end  time.Time
}

type connStats struct {
	device    string
	remote    string
	firstSeen time.Time
	lastSeen  time.Time
	events    int
	commands  int
}

type selectorStats struct {
	device   string
	ok       int
	failed   int
	total    time.Duration
	slowest  time.Duration
	failures map[string]int
}

func newCaptureStats() *captureStats {
	return &captureStats{
		byLayer:     make(map[log.Layer]int),
		byCategory:  make(map[log.Category]int),
		connections: make(map[string]*connStats),
		selectors:   make(map[string]*selectorStats),
	}
}

func collectStats(src eventSource) (*captureStats, error) {
	stats := newCaptureStats()
	for {
		event, err := src.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading capture: %w", err)
		}
		stats.add(event)
	}
}

func (s *captureStats) add(event log.Event) {
	s.total++
	s.byLayer[event.Layer]++
	s.byCategory[event.Category]++

	if s.start.IsZero() || event.Timestamp.Before(s.start) {
		s.start = event.Timestamp
	}
	if event.Timestamp.After(s.end) {
		s.end = event.Timestamp
	}
	if event.Error != nil {
		s.errors++
	}

	if event.ConnectionID != "" {
		c, ok := s.connections[event.ConnectionID]
		if !ok {
			c = &connStats{device: event.Device, firstSeen: event.Timestamp, lastSeen: event.Timestamp}
			s.connections[event.ConnectionID] = c
		}
		c.events++
		if event.Timestamp.After(c.lastSeen) {
			c.lastSeen = event.Timestamp
		}
		if event.RemoteAddr != "" && c.remote == "" {
			c.remote = event.RemoteAddr
		}
		if event.Command != nil {
			c.commands++
		}
	}

	if r := event.Result; r != nil {
		key := event.Device + " " + r.Selector
		sel, ok := s.selectors[key]
		if !ok {
			sel = &selectorStats{device: event.Device, failures: make(map[string]int)}
			s.selectors[key] = sel
		}
		if r.ErrorKind != "" {
			sel.failed++
			sel.failures[r.ErrorKind]++
		} else {
			sel.ok++
		}
		sel.total += r.Elapsed
		sel.slowest = max(sel.slowest, r.Elapsed)
	}
}

func printStats(w io.Writer, s *captureStats) {
	fmt.Fprintln(w, "=== Protocol Capture Statistics ===")
	fmt.Fprintln(w)

	if s.total > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n", s.start.Format(time.RFC3339), s.end.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", s.end.Sub(s.start).Round(time.Second))
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Total Events: %d\n", s.total)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerDispatch} {
		if n := s.byLayer[layer]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", n)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if n := s.byCategory[cat]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", n)
		}
	}
	fmt.Fprintln(w)

	if len(s.selectors) > 0 {
		keys := make([]string, 0, len(s.selectors))
		for k := range s.selectors {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(w, "Selectors:")
		for _, k := range keys {
			sel := s.selectors[k]
			n := sel.ok + sel.failed
			fmt.Fprintf(w, "  %-32s %4d ok %4d failed  avg %s  max %s\n", k, sel.ok, sel.failed,
				formatDuration(sel.total/time.Duration(n)), formatDuration(sel.slowest))
			kinds := make([]string, 0, len(sel.failures))
			for kind := range sel.failures {
				kinds = append(kinds, kind)
			}
			sort.Strings(kinds)
			for _, kind := range kinds {
				fmt.Fprintf(w, "    %s: %d\n", kind, sel.failures[kind])
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(s.connections))
	if len(s.connections) > 0 {
		type connInfo struct {
			id    string
			stats *connStats
		}
		conns := make([]connInfo, 0, len(s.connections))
		for id, cs := range s.connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.firstSeen.Before(conns[j].stats.firstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			fmt.Fprintf(w, "  [%s] %s %d events, %d commands, duration %s\n", shortenConnID(c.id),
				c.stats.device, c.stats.events, c.stats.commands,
				c.stats.lastSeen.Sub(c.stats.firstSeen).Round(time.Millisecond))
			if c.stats.remote != "" {
				fmt.Fprintf(w, "           Remote: %s\n", c.stats.remote)
			}
		}
	}

	if s.errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", s.errors)
	}
}
