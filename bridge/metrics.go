// Copyright 2024 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build unix

package bridge

import (
	"github.com/aggnet/aggnet/relay"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	directionDeviceToSocket = "device_to_socket"
	directionSocketToDevice = "socket_to_device"
)

// Metrics exports session counters to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	active   prometheus.Gauge
	sessions *prometheus.CounterVec
	frames   *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	filtered *prometheus.CounterVec
	dropped  *prometheus.CounterVec
}

// NewMetrics creates the session collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aggnet",
			Name:      "sessions_active",
			Help:      "Sessions currently relaying frames.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggnet",
			Name:      "sessions_total",
			Help:      "Sessions that ended, by outcome.",
		}, []string{"outcome"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggnet",
			Name:      "frames_total",
			Help:      "Frames queued for their destination.",
		}, []string{"direction"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggnet",
			Name:      "frame_bytes_total",
			Help:      "Payload bytes of the frames queued for their destination.",
		}, []string{"direction"}),
		filtered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggnet",
			Name:      "frames_filtered_total",
			Help:      "Frames dropped by the address filter.",
		}, []string{"direction"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggnet",
			Name:      "frames_dropped_total",
			Help:      "Frames the destination could not carry.",
		}, []string{"direction"}),
	}
	for _, c := range []prometheus.Collector{m.active, m.sessions, m.frames, m.bytes, m.filtered, m.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) sessionEnded(stats relay.Stats, err error) {
	if m == nil {
		return
	}
	m.active.Dec()
	outcome := "closed"
	if err != nil {
		outcome = "failed"
	}
	m.sessions.WithLabelValues(outcome).Inc()
	m.addDirection(directionDeviceToSocket, stats.DeviceToSocket)
	m.addDirection(directionSocketToDevice, stats.SocketToDevice)
}

func (m *Metrics) addDirection(direction string, d relay.DirectionStats) {
	m.frames.WithLabelValues(direction).Add(float64(d.Frames))
	m.bytes.WithLabelValues(direction).Add(float64(d.Bytes))
	m.filtered.WithLabelValues(direction).Add(float64(d.Filtered))
	m.dropped.WithLabelValues(direction).Add(float64(d.Dropped))
}
