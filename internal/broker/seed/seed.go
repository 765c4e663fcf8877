// Package seed loads the initial sites/rooms/persons/devices/
// escalation topology from a YAML or JSON payload, expanding ${VAR}
// references against the process environment before upserting rows.
// It is invoked once at bootstrap when the alarms table is empty.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/store"
	"github.com/silentline/sentinel/internal/broker/validate"
	"github.com/silentline/sentinel/internal/util/sanitize"
)

const maxLabelLen = 120

// Document is the top-level seed payload shape. Every field carries
// both yaml and json tags so the same struct decodes either format.
type Document struct {
	Sites             []SiteDoc             `yaml:"sites" json:"sites"`
	Rooms             []RoomDoc              `yaml:"rooms" json:"rooms"`
	Persons           []PersonDoc            `yaml:"persons" json:"persons"`
	Devices           []DeviceDoc            `yaml:"devices" json:"devices"`
	EscalationTargets []EscalationTargetDoc  `yaml:"escalation_targets" json:"escalation_targets"`
	EscalationPolicy  *EscalationPolicyDoc   `yaml:"escalation_policy" json:"escalation_policy"`
}

type SiteDoc struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

type RoomDoc struct {
	ID     string `yaml:"id" json:"id"`
	SiteID string `yaml:"site_id" json:"site_id"`
	Label  string `yaml:"label" json:"label"`
	Floor  string `yaml:"floor" json:"floor"`
	Notes  string `yaml:"notes" json:"notes"`
}

type PersonDoc struct {
	ID          string `yaml:"id" json:"id"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Role        string `yaml:"role" json:"role"`
	PhoneMobile string `yaml:"phone_mobile" json:"phone_mobile"`
	PhoneExt    string `yaml:"phone_ext" json:"phone_ext"`
	Active      string `yaml:"active" json:"active"` // "true"/"false"/"1"/"0", coerced
}

type DeviceDoc struct {
	ID          string `yaml:"id" json:"id"`
	Vendor      string `yaml:"vendor" json:"vendor"`
	ModelFamily string `yaml:"model_family" json:"model_family"`
	MAC         string `yaml:"mac" json:"mac"`
	AccountExt  string `yaml:"account_ext" json:"account_ext"`
	DeviceToken string `yaml:"device_token" json:"device_token"`
	PersonID    string `yaml:"person_id" json:"person_id"`
	RoomID      string `yaml:"room_id" json:"room_id"`
}

type EscalationTargetDoc struct {
	ID      string `yaml:"id" json:"id"`
	Label   string `yaml:"label" json:"label"`
	Channel string `yaml:"channel" json:"channel"`
	Address string `yaml:"address" json:"address"`
	Enabled string `yaml:"enabled" json:"enabled"`
}

type EscalationPolicyDoc struct {
	ID    string          `yaml:"id" json:"id"`
	Name  string          `yaml:"name" json:"name"`
	Steps []EscalationStepDoc `yaml:"steps" json:"steps"`
}

type EscalationStepDoc struct {
	StepNo       string `yaml:"step_no" json:"step_no"`
	AfterSeconds string `yaml:"after_seconds" json:"after_seconds"`
	TargetID     string `yaml:"target_id" json:"target_id"`
}

// Parse decodes a seed document, choosing YAML or JSON by contentType
// (an empty or unrecognized content type falls back to JSON, matching
// how the trigger endpoint treats an empty severity as "use the
// default"), then expands ${VAR} references against the environment.
func Parse(contentType string, raw []byte) (*Document, error) {
	expanded := os.Expand(string(raw), envLookup)

	var doc Document
	switch contentType {
	case "application/yaml", "text/yaml":
		if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
			return nil, fmt.Errorf("parse yaml seed: %w", err)
		}
	default:
		if err := json.Unmarshal([]byte(expanded), &doc); err != nil {
			return nil, fmt.Errorf("parse json seed: %w", err)
		}
	}
	return &doc, nil
}

func envLookup(key string) string {
	return os.Getenv(key)
}

func coerceBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}

func coerceInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// Apply upserts every entity in doc, each keyed by its own id. A
// device must carry a device_token, since that is the field the
// trigger pipeline looks devices up by.
func Apply(ctx context.Context, st *store.Store, doc *Document) error {
	for _, d := range doc.Sites {
		id, err := validate.SanitizeSlug("site id", d.ID)
		if err != nil {
			return fmt.Errorf("site %s: %w", d.ID, err)
		}
		if err := validate.ValidateName(d.Name); err != nil {
			return fmt.Errorf("site %s: %w", d.ID, err)
		}
		if err := st.UpsertSite(ctx, model.Site{ID: id, Name: d.Name}); err != nil {
			return fmt.Errorf("upsert site %s: %w", d.ID, err)
		}
	}
	for _, d := range doc.Rooms {
		id, err := validate.SanitizeSlug("room id", d.ID)
		if err != nil {
			return fmt.Errorf("room %s: %w", d.ID, err)
		}
		label := sanitize.Title(d.Label, maxLabelLen)
		if err := st.UpsertRoom(ctx, model.Room{ID: id, SiteID: d.SiteID, Label: label, Floor: d.Floor, Notes: d.Notes}); err != nil {
			return fmt.Errorf("upsert room %s: %w", d.ID, err)
		}
	}
	for _, d := range doc.Persons {
		id, err := validate.SanitizeSlug("person id", d.ID)
		if err != nil {
			return fmt.Errorf("person %s: %w", d.ID, err)
		}
		name := sanitize.Title(d.DisplayName, maxLabelLen)
		if err := st.UpsertPerson(ctx, model.Person{
			ID: id, DisplayName: name, Role: d.Role,
			PhoneMobile: d.PhoneMobile, PhoneExt: d.PhoneExt, Active: coerceBool(d.Active),
		}); err != nil {
			return fmt.Errorf("upsert person %s: %w", d.ID, err)
		}
	}
	for _, d := range doc.Devices {
		if d.DeviceToken == "" {
			return fmt.Errorf("device %s: device_token is required", d.ID)
		}
		id, err := validate.SanitizeSlug("device id", d.ID)
		if err != nil {
			return fmt.Errorf("device %s: %w", d.ID, err)
		}
		vendor, err := validate.ValidateProperty("vendor", d.Vendor)
		if err != nil {
			return fmt.Errorf("device %s: %w", d.ID, err)
		}
		if err := st.UpsertDevice(ctx, model.Device{
			ID: id, Vendor: vendor, ModelFamily: d.ModelFamily, MAC: d.MAC,
			AccountExt: d.AccountExt, DeviceToken: d.DeviceToken, PersonID: d.PersonID, RoomID: d.RoomID,
		}); err != nil {
			return fmt.Errorf("upsert device %s: %w", d.ID, err)
		}
	}
	for _, d := range doc.EscalationTargets {
		if err := st.UpsertEscalationTarget(ctx, model.EscalationTarget{
			ID: d.ID, Label: d.Label, Channel: model.Channel(d.Channel), Address: d.Address, Enabled: coerceBool(d.Enabled),
		}); err != nil {
			return fmt.Errorf("upsert escalation target %s: %w", d.ID, err)
		}
	}
	if doc.EscalationPolicy != nil {
		p := doc.EscalationPolicy
		if err := st.UpsertEscalationPolicy(ctx, model.EscalationPolicy{ID: p.ID, Name: p.Name}); err != nil {
			return fmt.Errorf("upsert escalation policy %s: %w", p.ID, err)
		}
		steps := make([]model.EscalationStep, 0, len(p.Steps))
		for _, sd := range p.Steps {
			steps = append(steps, model.EscalationStep{
				PolicyID:     p.ID,
				StepNo:       coerceInt(sd.StepNo, 0),
				AfterSeconds: coerceInt(sd.AfterSeconds, 0),
				TargetID:     sd.TargetID,
			})
		}
		if err := st.ReplaceEscalationSteps(ctx, p.ID, steps); err != nil {
			return fmt.Errorf("replace escalation steps for policy %s: %w", p.ID, err)
		}
	}
	return nil
}
