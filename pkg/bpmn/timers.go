// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model/extensions"
	"github.com/robfig/cron/v3"
	"github.com/senseyeio/duration"
)

// repetitions of a cycle without end
const infiniteRepetitions = -1

type timerSchedule struct {
	dueDate time.Time
	// remaining firings including the scheduled one, 0 for a single firing
	repetitions int
}

// evaluateTimer computes the first due date of a timer definition relative to the engine clock.
func (b *EventSubscriptionBehavior) evaluateTimer(definition extensions.TEventDefinition, evaluate func(expression string) (string, error)) (timerSchedule, error) {
	now := b.engine.clock()
	switch {
	case definition.TimeDuration != "":
		value, err := evaluate(definition.TimeDuration)
		if err != nil {
			return timerSchedule{}, err
		}
		durationVal, err := parseDuration(value)
		if err != nil {
			return timerSchedule{}, err
		}
		return timerSchedule{dueDate: durationVal.Shift(now)}, nil
	case definition.TimeDate != "":
		value, err := evaluate(definition.TimeDate)
		if err != nil {
			return timerSchedule{}, err
		}
		dueDate, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return timerSchedule{}, fmt.Errorf("failed to parse time date %s: %w", value, err)
		}
		return timerSchedule{dueDate: dueDate}, nil
	case definition.TimeCycle != "":
		value, err := evaluate(definition.TimeCycle)
		if err != nil {
			return timerSchedule{}, err
		}
		return nextCycle(value, now, 0)
	}
	return timerSchedule{}, fmt.Errorf("timer has neither time duration, time date nor time cycle")
}

// nextCycle schedules the next firing of a time cycle. A cycle is either an
// ISO 8601 repeating interval R<n>/<duration> or a cron expression.
// remaining is 0 for the first firing.
func nextCycle(cycle string, now time.Time, remaining int) (timerSchedule, error) {
	if strings.HasPrefix(cycle, "R") {
		repeat, interval, found := strings.Cut(cycle, "/")
		if !found {
			return timerSchedule{}, fmt.Errorf("time cycle %s has no interval", cycle)
		}
		durationVal, err := parseDuration(interval)
		if err != nil {
			return timerSchedule{}, err
		}
		repetitions := infiniteRepetitions
		if count := strings.TrimPrefix(repeat, "R"); count != "" {
			repetitions, err = strconv.Atoi(count)
			if err != nil || repetitions < 1 {
				return timerSchedule{}, fmt.Errorf("time cycle %s has invalid repetitions", cycle)
			}
		}
		if remaining != 0 {
			repetitions = remaining
		}
		return timerSchedule{dueDate: durationVal.Shift(now), repetitions: repetitions}, nil
	}
	schedule, err := cron.ParseStandard(cycle)
	if err != nil {
		return timerSchedule{}, fmt.Errorf("failed to parse time cycle %s: %w", cycle, err)
	}
	return timerSchedule{dueDate: schedule.Next(now), repetitions: infiniteRepetitions}, nil
}

func parseDuration(durationStr string) (duration.Duration, error) {
	durationVal, err := duration.ParseISO8601(durationStr)
	if err != nil {
		return durationVal, fmt.Errorf("failed to parse duration %s: %w", durationStr, err)
	}
	return durationVal, nil
}

// remainingAfterFiring returns the repetitions left once a timer with repetitions fired,
// 0 means the cycle is finished.
func remainingAfterFiring(repetitions int) int {
	switch {
	case repetitions == infiniteRepetitions:
		return infiniteRepetitions
	case repetitions > 1:
		return repetitions - 1
	}
	return 0
}
