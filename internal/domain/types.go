// Package domain holds the content item and account model shared by the
// repository, the executor and the reconciler.
package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusUnpublished Status = "unpublished"
	StatusScheduled   Status = "scheduled"
	StatusProcessing  Status = "processing"
	StatusPublished   Status = "published"
	StatusHidden      Status = "hidden"
)

type ScheduleStatus string

const (
	ScheduleNone       ScheduleStatus = "none"
	ScheduleScheduled  ScheduleStatus = "scheduled"
	ScheduleProcessing ScheduleStatus = "processing"
)

type PublishStatus string

const (
	PublishNone    PublishStatus = "none"
	PublishSuccess PublishStatus = "success"
	PublishFailed  PublishStatus = "failed"
)

// ContentItem is one publishable unit. ScheduleTime is set exactly when
// ScheduleStatus is not ScheduleNone.
type ContentItem struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title"`
	SourceRef      string         `json:"source_ref,omitempty"`
	Status         Status         `json:"status"`
	PublishStatus  PublishStatus  `json:"publish_status"`
	ScheduleTime   *time.Time     `json:"schedule_time,omitempty"`
	ScheduleStatus ScheduleStatus `json:"schedule_status"`
	AccountID      *int64         `json:"account_id,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	PublishTime    *time.Time     `json:"publish_time,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// State is the (status, scheduleStatus) pair the state machine is keyed on.
func (c ContentItem) State() State {
	return State{Status: c.Status, Schedule: c.ScheduleStatus}
}

func (c ContentItem) HasAccount() bool { return c.AccountID != nil && *c.AccountID > 0 }

// Stranded reports whether the item carries a claim marker. Outside of a
// running batch this means a previous process died mid-publish.
func (c ContentItem) Stranded() bool {
	return c.Status == StatusProcessing || c.ScheduleStatus == ScheduleProcessing
}

type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountDeleted AccountStatus = "deleted"
)

// Account is a platform identity bound to one automation lane. Several
// accounts may share a LaneID when they live in the same browser profile.
type Account struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	LaneID       string        `json:"lane_id"`
	PlatformType string        `json:"platform_type"`
	Status       AccountStatus `json:"status"`
	CanLogin     bool          `json:"can_login"`
	CheckedAt    *time.Time    `json:"checked_at,omitempty"`
}

// HealthStatus is the tri-state outcome of a login probe.
type HealthStatus string

const (
	HealthHealthy      HealthStatus = "healthy"
	HealthUnhealthy    HealthStatus = "unhealthy"
	HealthInconclusive HealthStatus = "inconclusive"
)

func ParseHealthStatus(s string) HealthStatus {
	switch HealthStatus(strings.ToLower(strings.TrimSpace(s))) {
	case HealthHealthy:
		return HealthHealthy
	case HealthUnhealthy:
		return HealthUnhealthy
	default:
		return HealthInconclusive
	}
}

// Outcome is what a publisher reports for one job.
type Outcome struct {
	Success bool
	Message string
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
