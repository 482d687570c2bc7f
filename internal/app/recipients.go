package app

import (
	"context"

	"kkt_deadline_bot/internal/domain/client"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/notification"
)

// RecipientResolver lists who hears about a deadline: staff from configuration plus the
// owning client's contacts that have notifications enabled. A chat appears once.
type RecipientResolver struct {
	admins   []int64
	managers []int64
}

func NewRecipientResolver(admins, managers []int64) *RecipientResolver {
	return &RecipientResolver{admins: admins, managers: managers}
}

func (r *RecipientResolver) Resolve(ctx context.Context, clients client.Repository, d *deadline.Deadline) ([]notification.Recipient, error) {
	contacts, err := clients.ListNotifiableContacts(ctx, d.ClientID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	out := r.Staff()
	for _, rcpt := range out {
		seen[rcpt.ChatID] = struct{}{}
	}
	for _, c := range contacts {
		if _, dup := seen[c.TelegramID]; dup || c.TelegramID == 0 {
			continue
		}
		seen[c.TelegramID] = struct{}{}
		out = append(out, notification.Recipient{
			ChatID: c.TelegramID,
			Kind:   notification.RecipientContact,
			Name:   c.DisplayName.String,
		})
	}
	return out, nil
}

// Staff returns admins followed by managers, deduplicated.
func (r *RecipientResolver) Staff() []notification.Recipient {
	seen := make(map[int64]struct{})
	out := make([]notification.Recipient, 0, len(r.admins)+len(r.managers))
	add := func(ids []int64, kind notification.RecipientKind) {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, notification.Recipient{ChatID: id, Kind: kind})
		}
	}
	add(r.admins, notification.RecipientAdmin)
	add(r.managers, notification.RecipientManager)
	return out
}

// Admins returns admin recipients only.
func (r *RecipientResolver) Admins() []notification.Recipient {
	out := make([]notification.Recipient, 0, len(r.admins))
	for _, rcpt := range r.Staff() {
		if rcpt.Kind == notification.RecipientAdmin {
			out = append(out, rcpt)
		}
	}
	return out
}
