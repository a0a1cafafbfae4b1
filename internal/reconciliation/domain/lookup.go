package domain

import (
	"strings"

	"github.com/smallbiznis/muanapay/internal/phone"
)

type LookupKind string

const (
	LookupPhone     LookupKind = "phone"
	LookupReference LookupKind = "reference"
)

// Lookup identifies how a verification request locates its notification.
// The only implementations are ByPhone and ByReference.
type Lookup interface {
	Kind() LookupKind
	Key() string
	isLookup()
}

// ByPhone matches on the normalized payer number suffix.
type ByPhone struct {
	Suffix string
}

func (ByPhone) Kind() LookupKind { return LookupPhone }
func (l ByPhone) Key() string    { return l.Suffix }
func (ByPhone) isLookup()        {}

// ByReference matches the operator transaction reference exactly.
type ByReference struct {
	Reference string
}

func (ByReference) Kind() LookupKind { return LookupReference }
func (l ByReference) Key() string    { return l.Reference }
func (ByReference) isLookup()        {}

// LookupFrom picks the phone lookup when a phone is supplied and the
// reference lookup otherwise. It returns nil when neither is present.
func LookupFrom(senderNumber, transactionID string) Lookup {
	if raw := strings.TrimSpace(senderNumber); raw != "" {
		return ByPhone{Suffix: phone.Normalize(raw)}
	}
	if ref := strings.TrimSpace(transactionID); ref != "" {
		return ByReference{Reference: ref}
	}
	return nil
}
