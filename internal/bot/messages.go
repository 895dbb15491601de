package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/susu3304/paycollect/internal/db"
	"github.com/susu3304/paycollect/internal/payment"
	"github.com/susu3304/paycollect/internal/roster"
	"github.com/susu3304/paycollect/internal/sheets"
)

const (
	msgUseDM            = "Please send me a direct message and use /amount there."
	msgSendPhoto        = "Please send a photo of your payment receipt."
	msgAlreadyPaid      = "Your payment has already been recorded. Thank you!"
	msgUnknown          = "I could not find **%s** in the participant list. Check your username with the organizer."
	msgRequestFirst     = "Please run /amount first so I can assign your amount, then send the receipt."
	msgRosterNotReady   = "The participant list is not available right now. Please try again in a minute."
	msgGenericFailure   = "Something went wrong. Please try again later (reference `%s`)."
	msgInviteLinePrefix = "Here is your invite link: "
	msgAutomated        = "_This is an automated reminder._"
)

// knownErrorMessage returns the reply for expected request-path outcomes.
func knownErrorMessage(err error, username string) (string, bool) {
	switch {
	case errors.Is(err, payment.ErrUnknownParticipant):
		return fmt.Sprintf(msgUnknown, username), true
	case errors.Is(err, payment.ErrAlreadyPaid):
		return msgAlreadyPaid, true
	case errors.Is(err, db.ErrNotFound):
		return msgRequestFirst, true
	case errors.Is(err, roster.ErrUnavailable):
		return msgRosterNotReady, true
	}
	return "", false
}

func quoteMessage(q *payment.Quote) string {
	a := q.Assignment
	var b strings.Builder
	fmt.Fprintf(&b, "You are **#%d** of %d.\n", a.Position+1, q.TotalParticipants)
	fmt.Fprintf(&b, "Your amount: **%d**\n", a.AmountDue)
	if q.Largest != q.Smallest {
		fmt.Fprintf(&b, "Shares range from %d (first) to %d (last); each place changes the amount by %.2f%%, so the next person pays about %d.\n",
			q.Largest, q.Smallest, q.DecayPercent, q.NextAmount)
	}
	b.WriteString("After paying, send me a photo of the receipt.")
	return b.String()
}

func receiptMessage(r *payment.Receipt, invite string) string {
	s := r.Submission
	var b strings.Builder
	fmt.Fprintf(&b, "Receipt received for **#%d** (%d). Time since your amount was assigned: %s.",
		s.Position+1, s.AmountDue, sheets.FormatElapsed(s.Elapsed))
	if invite != "" {
		b.WriteString("\n")
		b.WriteString(msgInviteLinePrefix)
		b.WriteString(invite)
	}
	return b.String()
}

func reminderMessage(a db.Assignment) string {
	return fmt.Sprintf("Reminder: you are **#%d** and your amount is **%d**. Send me a photo of the receipt once you have paid.",
		a.Position+1, a.AmountDue)
}
