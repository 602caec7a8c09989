package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/provider/crm"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

// ContactSync syncs an order's customer to the contact platform.
type ContactSync struct {
	OrderID string `json:"order_id"`
	// Force re-pushes the contact even when the order is already synced.
	Force bool `json:"force,omitempty"`
}

// JobType implements job.Payload.
func (ContactSync) JobType() job.Type { return job.TypeContactSync }

// JobKey serializes contact syncs of the same order.
func (p ContactSync) JobKey() string { return "order:" + p.OrderID }

// ContactSyncResult is recorded on the completed job.
type ContactSyncResult struct {
	OrderID   string `json:"order_id"`
	ContactID string `json:"contact_id"`
	// Skipped is set when the order was already synced and no call was made.
	Skipped bool `json:"skipped,omitempty"`
}

// ContactSyncDefinition returns the contact-sync job definition.
func (p *Processors) ContactSyncDefinition() *job.Definition[ContactSync, ContactSyncResult] {
	return job.NewDefinition(p.SyncContact,
		job.WithLane(job.LaneCritical),
		job.WithMaxAttempts(5),
		job.WithTimeout(time.Minute),
	)
}

// SyncContact is the contact-sync handler. The order's sync status is read
// and written under the order's lease, so concurrent syncs of one order
// never both call the platform.
func (p *Processors) SyncContact(ctx context.Context, in ContactSync) (ContactSyncResult, error) {
	res := ContactSyncResult{OrderID: in.OrderID}
	if in.OrderID == "" {
		return res, retry.Permanent(errors.New("contact sync: missing order id"))
	}
	if p.contacts == nil {
		return res, retry.Permanent(errors.New("contact sync: no contact platform configured"))
	}

	o, err := p.orders.GetOrder(ctx, in.OrderID)
	if err != nil {
		return res, classifyStoreErr(err)
	}
	if o.Synced() && !in.Force {
		res.ContactID, res.Skipped = *o.ContactID, true
		return res, nil
	}

	owner := leaseOwner(ctx)
	ok, err := p.orders.AcquireSyncLock(ctx, in.OrderID, owner, p.syncLockTTL)
	if err != nil {
		return res, classifyStoreErr(err)
	}
	if !ok {
		return res, retry.Transient(fmt.Errorf("order %s: %w", in.OrderID, visapi.ErrSyncInProgress))
	}
	defer func() {
		if relErr := p.orders.ReleaseSyncLock(context.WithoutCancel(ctx), in.OrderID, owner); relErr != nil {
			p.logger.Warn("release sync lock failed",
				slog.String("order_id", in.OrderID),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	// Re-check under the lease: another job may have finished meanwhile.
	o, err = p.orders.GetOrder(ctx, in.OrderID)
	if err != nil {
		return res, classifyStoreErr(err)
	}
	if o.Synced() && !in.Force {
		res.ContactID, res.Skipped = *o.ContactID, true
		return res, nil
	}

	contactID, err := p.pushContact(ctx, o.ID, o.BranchCode, o.CustomerName, o.CustomerPhone, o.CustomerEmail)
	if err != nil {
		if retry.IsPermanent(err) {
			if markErr := p.orders.MarkSyncFailed(ctx, in.OrderID, owner, err.Error()); markErr != nil {
				p.logger.Error("mark sync failed",
					slog.String("order_id", in.OrderID),
					slog.String("error", markErr.Error()),
				)
			}
		}
		return res, err
	}

	if err := p.orders.MarkSynced(ctx, in.OrderID, owner, contactID, p.now()); err != nil {
		// Lease expired under us; the next attempt finds the contact by phone.
		return res, retry.Transient(fmt.Errorf("order %s: %w", in.OrderID, err))
	}

	p.logger.Info("contact synced",
		slog.String("order_id", in.OrderID),
		slog.String("contact_id", contactID),
	)
	res.ContactID = contactID
	return res, nil
}

func (p *Processors) pushContact(ctx context.Context, orderID, branch, name, phone, email string) (string, error) {
	variants := phoneVariants(phone)
	if len(variants) == 0 {
		return "", retry.Permanent(fmt.Errorf("order %s: customer phone %q is not a phone number", orderID, phone))
	}

	var existing string
	for _, v := range variants {
		contactID, found, err := p.contacts.FindContact(ctx, v)
		if err != nil {
			return "", fmt.Errorf("find contact: %w", err)
		}
		if found {
			existing = contactID
			break
		}
	}

	contactID, err := p.contacts.UpsertContact(ctx, crm.Contact{
		ID:    existing,
		Phone: variants[0],
		Name:  name,
		Email: email,
		Fields: map[string]string{
			"order_id":    orderID,
			"branch_code": branch,
		},
	})
	if err != nil {
		return "", fmt.Errorf("upsert contact: %w", err)
	}
	return contactID, nil
}

// classifyStoreErr marks missing records permanent; everything else from
// a store is assumed to be an outage.
func classifyStoreErr(err error) error {
	switch {
	case errors.Is(err, visapi.ErrOrderNotFound),
		errors.Is(err, visapi.ErrMessageNotFound):
		return retry.Permanent(err)
	}
	return retry.Transient(err)
}
