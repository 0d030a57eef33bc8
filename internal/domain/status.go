package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid payment status transition")

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusPartial   PaymentStatus = "partial"
	StatusCompleted PaymentStatus = "completed"
	StatusOverdue   PaymentStatus = "overdue"
	StatusApproved  PaymentStatus = "approved"
	StatusRejected  PaymentStatus = "rejected"
)

// ParseStatus normalizes a status string. The legacy "due" status is read as pending.
func ParseStatus(s string) (PaymentStatus, bool) {
	st := PaymentStatus(strings.ToLower(strings.TrimSpace(s)))
	if st == "due" {
		return StatusPending, true
	}
	switch st {
	case StatusPending, StatusPartial, StatusCompleted, StatusOverdue, StatusApproved, StatusRejected:
		return st, true
	}
	return "", false
}

// Actor identifies who is driving a status change.
type Actor int

const (
	ActorStudent Actor = iota
	ActorAdmin
	ActorSystem
)

func (a Actor) String() string {
	switch a {
	case ActorStudent:
		return "student"
	case ActorAdmin:
		return "admin"
	case ActorSystem:
		return "system"
	}
	return "unknown"
}

type statusSet map[PaymentStatus]struct{}

func set(ss ...PaymentStatus) statusSet {
	m := make(statusSet, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

var studentTransitions = map[PaymentStatus]statusSet{
	StatusPending:  set(StatusPartial, StatusCompleted),
	StatusPartial:  set(StatusPartial, StatusCompleted),
	StatusOverdue:  set(StatusPartial, StatusCompleted),
	StatusApproved: set(StatusPartial, StatusCompleted),
}

var systemTransitions = map[PaymentStatus]statusSet{
	StatusPending: set(StatusOverdue),
	StatusPartial: set(StatusOverdue),
}

var adminTransitions = map[PaymentStatus]statusSet{
	StatusPending:  set(StatusPartial, StatusCompleted, StatusOverdue, StatusApproved, StatusRejected),
	StatusPartial:  set(StatusPending, StatusCompleted, StatusOverdue, StatusApproved, StatusRejected),
	StatusOverdue:  set(StatusPending, StatusPartial, StatusCompleted, StatusApproved, StatusRejected),
	StatusApproved: set(StatusPending, StatusPartial, StatusCompleted, StatusOverdue, StatusRejected),
	StatusRejected: set(StatusPending, StatusApproved),
}

// CheckTransition reports whether actor may move a payment from one status to another.
// Leaving completed is only possible for an admin correction.
func CheckTransition(from, to PaymentStatus, actor Actor, correction bool) error {
	if from == to {
		return nil
	}
	if from == StatusCompleted {
		if actor == ActorAdmin && correction {
			if _, ok := ParseStatus(string(to)); ok {
				return nil
			}
		}
		return errors.Wrapf(ErrInvalidTransition, "%s cannot move a completed payment to %s", actor, to)
	}

	var table map[PaymentStatus]statusSet
	switch actor {
	case ActorStudent:
		table = studentTransitions
	case ActorAdmin:
		table = adminTransitions
	case ActorSystem:
		table = systemTransitions
	}
	if _, ok := table[from][to]; !ok {
		return errors.Wrapf(ErrInvalidTransition, "%s cannot move a payment from %s to %s", actor, from, to)
	}
	return nil
}

// SettlementStatus is the status a payment takes after money is applied to it.
func SettlementStatus(p Payment) PaymentStatus {
	if p.AmountPaid.GreaterThanOrEqual(p.Amount) {
		return StatusCompleted
	}
	if p.AmountPaid.IsPositive() {
		return StatusPartial
	}
	return p.Status
}
