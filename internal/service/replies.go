// README: Canned replies used when the model's reply is missing or superseded by the state machine.
package service

import (
	"errors"
	"fmt"

	"roam/internal/modules/pricing"
	"roam/internal/modules/query"
	"roam/internal/modules/relax"
	"roam/internal/modules/session"
	"roam/internal/modules/validate"
)

const (
	clarifyReply           = "Sorry, I didn't quite catch that. Where and when would you like to rent a car?"
	searchUnavailableReply = "I couldn't reach our vehicle search just now. Please try again in a moment."
)

func stateReply(s session.BookingSession, state session.State, cards int, quote *pricing.Quote) string {
	switch state {
	case session.StateInit:
		return "Hi, I'm Roam. Tell me where and when you need a car and I'll find one for you."
	case session.StateCollectingLocation:
		return "Where would you like to pick up the car?"
	case session.StateCollectingDates:
		if s.EndDate.IsZero() && !s.StartDate.IsZero() {
			return fmt.Sprintf("Got it, starting %s. When will you return the car?", s.StartDate)
		}
		return fmt.Sprintf("When do you need the car in %s?", s.Location)
	case session.StateCollectingVehicle:
		if cards > 0 {
			return fmt.Sprintf("Here are %d cars available in %s from %s to %s. Which one catches your eye?",
				cards, s.Location, s.StartDate, s.EndDate)
		}
		return "What kind of car are you looking for?"
	case session.StateConfirming:
		if quote != nil {
			return fmt.Sprintf("Shall I book %s in %s from %s to %s? That's $%.2f for %d days including fees.",
				s.SelectedVehicleID, s.Location, s.StartDate, s.EndDate, quote.Total, quote.Days)
		}
		return fmt.Sprintf("Shall I book %s in %s from %s to %s?", s.SelectedVehicleID, s.Location, s.StartDate, s.EndDate)
	case session.StateNeedsLogin:
		return "Please log in to continue with your booking."
	case session.StateNeedsVerification:
		return "Please verify your account to continue with your booking."
	case session.StateNeedsEmailOTP:
		return "I've sent a code to your email. Enter it to continue."
	case session.StateHighRiskReview:
		return "Your booking needs a quick review by our team. We'll be in touch shortly."
	case session.StateReadyForPayment:
		return "You're all set. Let's move on to payment."
	}
	return clarifyReply
}

func rejectionReply(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		return "That step isn't available right now. Say \"start over\" if you'd like to change your booking."
	case errors.Is(err, validate.ErrOutOfServiceArea), errors.Is(err, query.ErrUnknownLocation):
		return "Sorry, we don't serve that area yet. Could you pick another city?"
	case errors.Is(err, validate.ErrInvalidDateRange):
		return "Those dates don't work. Pick a start date from today on and a return date after it, within 30 days."
	case errors.Is(err, validate.ErrInvalidTime):
		return "I couldn't read that time. Could you give it like 10:00 or 3pm?"
	}
	return clarifyReply
}

func noAvailabilityReply(zr *relax.ZeroResultError) string {
	if zr.Query.Location == "" {
		return "I couldn't find any cars for those dates. Would different dates work?"
	}
	return fmt.Sprintf("I couldn't find any cars in %s for those dates, even after widening the search. Would different dates or a nearby city work?",
		zr.Query.Location)
}

func relaxedNote(explanation string) string {
	return fmt.Sprintf("No exact matches, so I %s.", explanation)
}
