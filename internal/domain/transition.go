package domain

import (
	"fmt"
	"time"

	"pubmatrix/internal/errors"
)

// ErrUndefinedTransition is returned for any (state, event) pair the table
// does not define. Nothing is applied in that case.
var ErrUndefinedTransition = errors.New("undefined state transition")

type State struct {
	Status   Status
	Schedule ScheduleStatus
}

func (s State) String() string { return fmt.Sprintf("%s/%s", s.Status, s.Schedule) }

type EventKind string

const (
	EventRequestPublish  EventKind = "request_publish"
	EventRequestSchedule EventKind = "request_schedule"
	EventTriggerDue      EventKind = "trigger_due"
	EventSucceeded       EventKind = "succeeded"
	EventFailed          EventKind = "failed"
	EventCancel          EventKind = "cancel"
	EventReturnToDraft   EventKind = "return_to_draft"
	EventHide            EventKind = "hide"
	EventRequeue         EventKind = "requeue"
)

// Event drives one transition. At is required for EventRequestSchedule;
// Message is recorded for outcome events.
type Event struct {
	Kind    EventKind
	At      time.Time
	Message string
}

// Transition computes the next item for ev. It is pure: the caller persists
// the result with a conditional update guarded on item.State().
func Transition(item ContentItem, ev Event, now time.Time) (ContentItem, error) {
	st := item.State()
	next := item
	next.UpdatedAt = now

	undefined := func() (ContentItem, error) {
		return item, errors.Wrapf(ErrUndefinedTransition, "%s on %s", ev.Kind, st)
	}

	switch ev.Kind {
	case EventRequestPublish:
		if st != (State{StatusUnpublished, ScheduleNone}) {
			return undefined()
		}
		if !item.HasAccount() {
			return item, errors.Newf("item %d has no account", item.ID)
		}
		next.Status = StatusProcessing
		next.ErrorMessage = ""

	case EventRequestSchedule:
		if st != (State{StatusUnpublished, ScheduleNone}) {
			return undefined()
		}
		if ev.At.IsZero() {
			return item, errors.New("schedule time is required")
		}
		if !item.HasAccount() {
			return item, errors.Newf("item %d has no account", item.ID)
		}
		next.Status = StatusScheduled
		next.ScheduleStatus = ScheduleScheduled
		next.ScheduleTime = Ptr(ev.At)
		next.ErrorMessage = ""

	case EventTriggerDue:
		if st != (State{StatusScheduled, ScheduleScheduled}) {
			return undefined()
		}
		if item.ScheduleTime == nil || item.ScheduleTime.After(now) {
			return item, errors.Wrapf(ErrUndefinedTransition, "item %d is not due yet", item.ID)
		}
		next.ScheduleStatus = ScheduleProcessing

	case EventSucceeded, EventFailed:
		if st != (State{StatusProcessing, ScheduleNone}) && st != (State{StatusScheduled, ScheduleProcessing}) {
			return undefined()
		}
		next.Status = StatusPublished
		next.ScheduleStatus = ScheduleNone
		next.ScheduleTime = nil
		next.PublishTime = Ptr(now)
		if ev.Kind == EventSucceeded {
			next.PublishStatus = PublishSuccess
			next.ErrorMessage = ""
		} else {
			next.PublishStatus = PublishFailed
			next.ErrorMessage = ev.Message
		}

	case EventCancel:
		if st != (State{StatusScheduled, ScheduleScheduled}) {
			return undefined()
		}
		next.Status = StatusUnpublished
		next.ScheduleStatus = ScheduleNone
		next.ScheduleTime = nil

	case EventReturnToDraft:
		if item.Status != StatusPublished {
			return undefined()
		}
		next.Status = StatusUnpublished
		next.ScheduleStatus = ScheduleNone
		next.ScheduleTime = nil
		next.PublishStatus = PublishNone
		next.PublishTime = nil
		next.ErrorMessage = ""

	case EventHide:
		if item.Status != StatusPublished {
			return undefined()
		}
		next.Status = StatusHidden

	case EventRequeue:
		// operator signal for a stranded claim
		switch st {
		case State{StatusProcessing, ScheduleNone}:
			next.Status = StatusUnpublished
		case State{StatusScheduled, ScheduleProcessing}:
			next.ScheduleStatus = ScheduleScheduled
		default:
			return undefined()
		}

	default:
		return item, errors.Wrapf(ErrUndefinedTransition, "unknown event %q", ev.Kind)
	}
	return next, nil
}

// States lists every (status, scheduleStatus) pair reachable through
// Transition.
func States() []State {
	return []State{
		{StatusUnpublished, ScheduleNone},
		{StatusScheduled, ScheduleScheduled},
		{StatusScheduled, ScheduleProcessing},
		{StatusProcessing, ScheduleNone},
		{StatusPublished, ScheduleNone},
		{StatusHidden, ScheduleNone},
	}
}

func EventKinds() []EventKind {
	return []EventKind{
		EventRequestPublish, EventRequestSchedule, EventTriggerDue, EventSucceeded,
		EventFailed, EventCancel, EventReturnToDraft, EventHide, EventRequeue,
	}
}
