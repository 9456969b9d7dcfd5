/*
 * Copyright 2024 ACRONYM Group.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package aciserver

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// defaultHeartbeatSchedule runs the heartbeat once a minute.
const defaultHeartbeatSchedule = "@every 1m"

func newCron(logger zerolog.Logger) *cron.Cron {
	l := loggerForCron{logger}
	return cron.New(cron.WithLogger(&l))
}

type loggerForCron struct {
	logger zerolog.Logger
}

func (l *loggerForCron) Info(msg string, keysAndValues ...interface{}) {
	// too verbose at Info; heartbeat logs its own summary line instead.
}

func (l *loggerForCron) Error(err error, msg string, keysAndValues ...interface{}) {
	e := l.logger.Error().Err(err).Bool("crond", true)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		e = e.Str(fmt.Sprintf("%v", keysAndValues[i]), fmt.Sprintf("%v", keysAndValues[i+1]))
	}
	e.Msg(msg)
}

// startHeartbeat schedules a cron entry that logs registry and hub
// occupancy once per schedule tick, per spec.md §4.11. Purely
// observational: it never persists anything.
func startHeartbeat(c *cron.Cron, schedule string, registry *Registry, hub *Hub, logger zerolog.Logger) error {
	if schedule == "" {
		schedule = defaultHeartbeatSchedule
	}
	_, err := c.AddFunc(schedule, func() {
		names := registry.DatabaseNames()
		keyCount := 0
		for _, name := range names {
			if di, ok := registry.GetDatabase(name); ok {
				keyCount += di.DB.KeyCount()
			}
		}
		connected := hub.ConnectedCount()
		logger.Info().
			Int("databases", len(names)).
			Int("keys", keyCount).
			Int("connectedPrincipals", connected).
			Msg("heartbeat")
	})
	if err != nil {
		return newErr(errIO, "scheduling heartbeat: %v", err)
	}
	return nil
}
