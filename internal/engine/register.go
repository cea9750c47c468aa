package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

type (
	registration struct {
		def     *WorkflowDefinition
		form    *api.WorkflowForm
		version *api.WorkflowVersion
	}

	activityRegistration struct {
		form    *api.ActivityForm
		version *api.ActivityVersion
	}
)

// Register makes a workflow definition runnable. Its form and version
// records are written lazily on first use
func (e *Engine) Register(def *WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	e.defsMu.Lock()
	defer e.defsMu.Unlock()
	if _, ok := e.definitions[def.FormID]; ok {
		return ErrWorkflowExists
	}
	e.definitions[def.FormID] = def
	slog.Info("Workflow registered",
		log.WorkflowFormID(def.FormID),
		slog.String("version", def.version()))
	return nil
}

// Definitions returns the form ids of every registered workflow
func (e *Engine) Definitions() []api.WorkflowFormID {
	e.defsMu.RLock()
	defer e.defsMu.RUnlock()
	res := make([]api.WorkflowFormID, 0, len(e.definitions))
	for id := range e.definitions {
		res = append(res, id)
	}
	return res
}

func (e *Engine) definition(
	formID api.WorkflowFormID,
) (*WorkflowDefinition, error) {
	e.defsMu.RLock()
	defer e.defsMu.RUnlock()
	if def, ok := e.definitions[formID]; ok {
		return def, nil
	}
	return nil, ErrWorkflowNotRegistered
}

func (e *Engine) register(
	ctx context.Context, def *WorkflowDefinition,
) (*registration, error) {
	probe := api.WorkflowVersion{
		WorkflowFormID: def.FormID,
		MajorVersion:   def.MajorVersion,
	}
	return e.versions.Get(probe.UniqueKey(), func() (*registration, error) {
		form, err := e.ensureWorkflowForm(ctx, def)
		if err != nil {
			return nil, err
		}
		version, err := e.ensureWorkflowVersion(ctx, def)
		if err != nil {
			return nil, err
		}
		return &registration{def: def, form: form, version: version}, nil
	})
}

// registrationFor resolves the registration behind a persisted version
func (e *Engine) registrationFor(
	ctx context.Context, versionID api.WorkflowVersionID,
) (*registration, error) {
	version, err := e.store.WorkflowVersions.Read(ctx, string(versionID))
	if err != nil {
		return nil, err
	}
	def, err := e.definition(version.WorkflowFormID)
	if err != nil {
		return nil, err
	}
	if def.MajorVersion != version.MajorVersion {
		return nil, fmt.Errorf("%w: %s major version %d",
			ErrWorkflowNotRegistered, def.FormID, version.MajorVersion)
	}
	return e.register(ctx, def)
}

func (e *Engine) ensureWorkflowForm(
	ctx context.Context, def *WorkflowDefinition,
) (*api.WorkflowForm, error) {
	form, err := e.store.WorkflowForms.Read(ctx, string(def.FormID))
	if err == nil {
		if form.Title == def.Title &&
			form.CapabilityName == def.CapabilityName {
			return form, nil
		}
		next := *form
		next.Title = def.Title
		next.CapabilityName = def.CapabilityName
		return e.store.WorkflowForms.Update(ctx, string(form.ID), &next)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	form, err = e.store.WorkflowForms.Create(ctx, &api.WorkflowForm{
		ID:             def.FormID,
		CapabilityName: def.CapabilityName,
		Title:          def.Title,
	})
	if errors.Is(err, store.ErrConflict) {
		return e.store.WorkflowForms.Read(ctx, string(def.FormID))
	}
	return form, err
}

func (e *Engine) ensureWorkflowVersion(
	ctx context.Context, def *WorkflowDefinition,
) (*api.WorkflowVersion, error) {
	want := &api.WorkflowVersion{
		WorkflowFormID: def.FormID,
		MajorVersion:   def.MajorVersion,
		MinorVersion:   def.MinorVersion,
	}
	version, err := e.store.WorkflowVersions.FindUnique(ctx, want.UniqueKey())
	if err == nil {
		if version.MinorVersion == def.MinorVersion {
			return version, nil
		}
		next := *version
		next.MinorVersion = def.MinorVersion
		return e.store.WorkflowVersions.Update(ctx, string(version.ID), &next)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	version, err = e.store.WorkflowVersions.Create(ctx, want)
	if errors.Is(err, store.ErrConflict) {
		return e.store.WorkflowVersions.FindUnique(ctx, want.UniqueKey())
	}
	return version, err
}

// registerActivity resolves the form and version records of an activity
// declared at a structural position
func (e *Engine) registerActivity(
	ctx context.Context, a *Activity,
) (*activityRegistration, error) {
	wv := a.run.reg.version.ID
	probe := api.ActivityVersion{
		WorkflowVersionID: wv,
		ActivityFormID:    a.formRecordID(),
	}
	return e.activities.Get(probe.UniqueKey(),
		func() (*activityRegistration, error) {
			form, err := e.ensureActivityForm(ctx, a)
			if err != nil {
				return nil, err
			}
			version, err := e.ensureActivityVersion(ctx, a)
			if err != nil {
				return nil, err
			}
			return &activityRegistration{form: form, version: version}, nil
		},
	)
}

func (e *Engine) ensureActivityForm(
	ctx context.Context, a *Activity,
) (*api.ActivityForm, error) {
	id := a.formRecordID()
	form, err := e.store.ActivityForms.Read(ctx, string(id))
	if err == nil {
		if form.Type == a.kind && form.Title == a.formTitle() {
			return form, nil
		}
		next := *form
		next.Type = a.kind
		next.Title = a.formTitle()
		return e.store.ActivityForms.Update(ctx, string(form.ID), &next)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	form, err = e.store.ActivityForms.Create(ctx, &api.ActivityForm{
		ID:             id,
		WorkflowFormID: a.run.reg.form.ID,
		Type:           a.kind,
		Title:          a.formTitle(),
	})
	if errors.Is(err, store.ErrConflict) {
		return e.store.ActivityForms.Read(ctx, string(id))
	}
	return form, err
}

func (e *Engine) ensureActivityVersion(
	ctx context.Context, a *Activity,
) (*api.ActivityVersion, error) {
	want := &api.ActivityVersion{
		WorkflowVersionID: a.run.reg.version.ID,
		ActivityFormID:    a.formRecordID(),
		Position:          a.position,
		FailUrgency:       a.failUrgency(),
	}
	if p := a.parentVersionID(); p != "" {
		want.ParentActivityVersionID = &p
	}
	if err := want.Validate(); err != nil {
		return nil, NewWorkflowImplementationError(err)
	}

	version, err := e.store.ActivityVersions.FindUnique(ctx, want.UniqueKey())
	if err == nil {
		if sameActivityVersion(version, want) {
			return version, nil
		}
		next := *version
		next.Position = want.Position
		next.FailUrgency = want.FailUrgency
		next.ParentActivityVersionID = want.ParentActivityVersionID
		return e.store.ActivityVersions.Update(ctx, string(version.ID), &next)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	version, err = e.store.ActivityVersions.Create(ctx, want)
	if errors.Is(err, store.ErrConflict) {
		return e.store.ActivityVersions.FindUnique(ctx, want.UniqueKey())
	}
	return version, err
}

func sameActivityVersion(have, want *api.ActivityVersion) bool {
	if have.Position != want.Position || have.FailUrgency != want.FailUrgency {
		return false
	}
	hp, wp := have.ParentActivityVersionID, want.ParentActivityVersionID
	switch {
	case hp == nil && wp == nil:
		return true
	case hp == nil || wp == nil:
		return false
	default:
		return *hp == *wp
	}
}
