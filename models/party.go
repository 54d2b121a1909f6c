package models

import (
	"context"
	"strings"

	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/utils"
)

type ActorRole string

const (
	ActorRoleTenant     ActorRole = "tenant"
	ActorRoleOwner      ActorRole = "owner"
	ActorRoleAccounting ActorRole = "accounting"
	ActorRoleAdmin      ActorRole = "admin"
	ActorRoleSystem     ActorRole = "system"
)

func (r ActorRole) IsValid() bool {
	switch r {
	case ActorRoleTenant, ActorRoleOwner, ActorRoleAccounting, ActorRoleAdmin, ActorRoleSystem:
		return true
	}
	return false
}

// Actor is the identity performing a request, taken from the request context.
type Actor struct {
	UserId string    `json:"user_id"`
	Name   string    `json:"name"`
	Role   ActorRole `json:"role"`
	Phone  string    `json:"phone,omitempty"`
	Email  string    `json:"email,omitempty"`
}

func ActorFromContext(ctx context.Context) Actor {
	var a Actor
	a.UserId, _ = utils.GetUserIdFromContext(ctx)
	a.Name, _ = utils.GetUserNameFromContext(ctx)
	role, _ := utils.GetUserRoleFromContext(ctx)
	a.Role = ActorRole(role)
	a.Phone, _ = utils.GetUserPhoneFromContext(ctx)
	a.Email, _ = utils.GetUserEmailFromContext(ctx)
	return a
}

// ContextWithActor is the inverse of ActorFromContext.
func ContextWithActor(ctx context.Context, a Actor) context.Context {
	ctx = utils.SetUserIdInContext(ctx, a.UserId)
	ctx = utils.SetUserNameInContext(ctx, a.Name)
	ctx = utils.SetUserRoleInContext(ctx, string(a.Role))
	ctx = utils.SetUserPhoneInContext(ctx, a.Phone)
	return utils.SetUserEmailInContext(ctx, a.Email)
}

func SystemActor() Actor {
	return Actor{UserId: "system", Name: "System", Role: ActorRoleSystem}
}

func (a Actor) IsAnonymous() bool {
	return a.UserId == "" && a.Email == "" && a.Phone == ""
}

func (a Actor) IsStaff() bool {
	return a.Role == ActorRoleAdmin || a.Role == ActorRoleAccounting
}

func (a Actor) label() string {
	if a.Name != "" {
		return a.Name
	}
	if a.UserId != "" {
		return a.UserId
	}
	return string(a.Role)
}

// Party is a named side of a reservation or contract.
type Party struct {
	UserId string `gorm:"size:64;index" json:"user_id,omitempty"`
	Name   string `gorm:"size:150" json:"name" validate:"omitempty,max=150"`
	Phone  string `gorm:"size:32" json:"phone"`
	Email  string `gorm:"size:150" json:"email,omitempty" validate:"omitempty,email"`
}

func (p Party) IsEmpty() bool {
	return p.UserId == "" && p.Phone == "" && p.Email == ""
}

// IsActor reports whether the actor is this party. A party bound to a user id only
// matches that user; otherwise email or phone must match.
func (p Party) IsActor(a Actor) bool {
	if p.UserId != "" {
		return a.UserId != "" && a.UserId == p.UserId
	}
	if p.Email != "" && a.Email != "" && strings.EqualFold(p.Email, a.Email) {
		return true
	}
	if p.Phone != "" && a.Phone != "" && samePhone(p.Phone, a.Phone) {
		return true
	}
	return false
}

func samePhone(a, b string) bool {
	region := config.PhoneRegion()
	na, errA := utils.NormalizePhoneNumber(a, region)
	nb, errB := utils.NormalizePhoneNumber(b, region)
	if errA == nil && errB == nil {
		return na == nb
	}
	return digitsOnly(a) != "" && digitsOnly(a) == digitsOnly(b)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeParty validates and canonicalizes contact fields in place.
func normalizeParty(prefix string, p *Party, fields map[string]string) {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if p.Email != "" && !utils.IsValidEmail(p.Email) {
		fields[prefix+".email"] = "email"
	}
	if phone := strings.TrimSpace(p.Phone); phone != "" {
		normalized, err := utils.NormalizePhoneNumber(phone, config.PhoneRegion())
		if err != nil {
			fields[prefix+".phone"] = "phone"
		} else {
			p.Phone = normalized
		}
	}
}
