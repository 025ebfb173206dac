package issue

import "fmt"

// Ledger is the append-only, submission-ordered list of offers on an issue.
type Ledger []Offer

func (l Ledger) clone() Ledger {
	if l == nil {
		return Ledger{}
	}
	out := make(Ledger, len(l))
	copy(out, l)
	return out
}

// ByProvider returns the offer submitted by providerID, if any.
func (l Ledger) ByProvider(providerID string) (Offer, bool) {
	for _, o := range l {
		if o.ProviderID == providerID {
			return o, true
		}
	}
	return Offer{}, false
}

// index returns the position of offerID or -1.
func (l Ledger) index(offerID string) int {
	for i, o := range l {
		if o.ID == offerID {
			return i
		}
	}
	return -1
}

// Find returns the offer with the given id.
func (l Ledger) Find(offerID string) (Offer, bool) {
	if i := l.index(offerID); i >= 0 {
		return l[i], true
	}
	return Offer{}, false
}

// Accepted returns the accepted offer, if any.
func (l Ledger) Accepted() (Offer, bool) {
	for _, o := range l {
		if o.Status == OfferAccepted {
			return o, true
		}
	}
	return Offer{}, false
}

func (l Ledger) count(status OfferStatus) int {
	n := 0
	for _, o := range l {
		if o.Status == status {
			n++
		}
	}
	return n
}

// appendOffer adds o at the tail. The provider must not already be present.
func (l *Ledger) appendOffer(o Offer) error {
	if _, dup := l.ByProvider(o.ProviderID); dup {
		return fmt.Errorf("issue: provider %s already made an offer: %w", o.ProviderID, ErrConflict)
	}
	o.Seq = len(*l) + 1
	o.Status = OfferPending
	*l = append(*l, o)
	return nil
}

// acceptOnly marks the offer at idx accepted and every other offer rejected.
func (l Ledger) acceptOnly(idx int) {
	for i := range l {
		if i == idx {
			l[i].Status = OfferAccepted
			continue
		}
		l[i].Status = OfferRejected
	}
}

func (l Ledger) reject(idx int) {
	l[idx].Status = OfferRejected
}
