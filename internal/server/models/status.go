// Package models defines the upload pipeline's persisted entities and their
// closed status types. Every switch over a status type is exhaustive, so a
// new state fails loudly until each consumer handles it.
package models

import (
	"fmt"

	"github.com/dmitrijs2005/mediasync/internal/common"
)

// JobStatus is the lifecycle state of an UploadJob.
type JobStatus int

const (
	JobPending JobStatus = iota + 1
	JobUploading
	JobCompleted
	JobFailed
	JobQuotaExceeded
	JobRateLimited
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobUploading:
		return "uploading"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobQuotaExceeded:
		return "quota_exceeded"
	case JobRateLimited:
		return "rate_limited"
	}
	return fmt.Sprintf("JobStatus(%d)", int(s))
}

// ParseJobStatus is the inverse of String.
func ParseJobStatus(s string) (JobStatus, error) {
	for _, st := range []JobStatus{JobPending, JobUploading, JobCompleted, JobFailed, JobQuotaExceeded, JobRateLimited} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q: %w", s, common.ErrorInternal)
}

// Valid reports whether s is one of the declared states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobUploading, JobCompleted, JobFailed, JobQuotaExceeded, JobRateLimited:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobPending, JobUploading:
		return false
	case JobCompleted, JobFailed, JobQuotaExceeded, JobRateLimited:
		return true
	}
	return false
}

// Active reports whether a job in state s holds its account's token.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobUploading
}

// CanTransition reports whether a job may move from s to next.
// Pending may fail before a transfer starts; Completed is reachable only
// from Uploading; nothing leaves a terminal state.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		switch next {
		case JobUploading, JobFailed, JobQuotaExceeded, JobRateLimited:
			return true
		case JobPending, JobCompleted:
			return false
		}
	case JobUploading:
		switch next {
		case JobCompleted, JobFailed, JobQuotaExceeded, JobRateLimited:
			return true
		case JobPending, JobUploading:
			return false
		}
	case JobCompleted, JobFailed, JobQuotaExceeded, JobRateLimited:
		return false
	}
	return false
}

// AccountStatus is the state of a StorageAccountConfig.
type AccountStatus int

const (
	AccountInactive AccountStatus = iota + 1
	AccountActive
	AccountError
	AccountSyncing
)

func (s AccountStatus) String() string {
	switch s {
	case AccountInactive:
		return "inactive"
	case AccountActive:
		return "active"
	case AccountError:
		return "error"
	case AccountSyncing:
		return "syncing"
	}
	return fmt.Sprintf("AccountStatus(%d)", int(s))
}

// ParseAccountStatus is the inverse of String.
func ParseAccountStatus(s string) (AccountStatus, error) {
	for _, st := range []AccountStatus{AccountInactive, AccountActive, AccountError, AccountSyncing} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown account status %q: %w", s, common.ErrorInternal)
}

// ErrorKind classifies why a job failed. It is persisted verbatim.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindAuth              ErrorKind = "auth_error"
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindRateLimited       ErrorKind = "rate_limited"
	KindSourceMissing     ErrorKind = "source_missing"
	KindConfigUnavailable ErrorKind = "config_unavailable"
	KindRemoteUnavailable ErrorKind = "remote_unavailable"
	KindRemoteRejected    ErrorKind = "remote_rejected"
	KindUnclassified      ErrorKind = "unclassified"
	KindCancelled         ErrorKind = "cancelled"
	KindInternal          ErrorKind = "internal"
)

// Class drives the retry decision for a failure.
type Class int

const (
	// Transient failures are retried with backoff.
	Transient Class = iota + 1
	// Permanent failures end the job in a dedicated terminal state.
	Permanent
	// Fatal failures end the job as Failed without retry.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Class returns the retry class of k. Unclassified reports Transient; the
// orchestrator escalates a repeated unclassified failure to Fatal.
func (k ErrorKind) Class() Class {
	switch k {
	case KindRateLimited, KindRemoteUnavailable, KindUnclassified:
		return Transient
	case KindQuotaExceeded, KindRemoteRejected:
		return Permanent
	case KindAuth, KindSourceMissing, KindConfigUnavailable, KindCancelled, KindInternal, KindNone:
		return Fatal
	}
	return Fatal
}

// TerminalStatus is the job state a non-retried failure of kind k ends in.
func (k ErrorKind) TerminalStatus() JobStatus {
	switch k {
	case KindQuotaExceeded:
		return JobQuotaExceeded
	case KindAuth, KindRateLimited, KindSourceMissing, KindConfigUnavailable, KindRemoteUnavailable,
		KindRemoteRejected, KindUnclassified, KindCancelled, KindInternal, KindNone:
		return JobFailed
	}
	return JobFailed
}
