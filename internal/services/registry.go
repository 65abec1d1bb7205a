package services

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
)

// Registry indexes registered providers by id and their actions and
// reactions by fully-qualified type. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Descriptor
	actions   map[string]*ActionDescriptor
	reactions map[string]*ReactionDescriptor
	schemas   map[string]*jsonschema.Schema
	validate  *validator.Validate
	logger    logging.Logger
}

func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Registry{
		providers: make(map[string]*Descriptor),
		actions:   make(map[string]*ActionDescriptor),
		reactions: make(map[string]*ReactionDescriptor),
		schemas:   make(map[string]*jsonschema.Schema),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "service_registry"}),
	}
}

// Register adds d. The registry keeps its own copy.
func (r *Registry) Register(d Descriptor) error {
	if err := r.validate.Struct(d); err != nil {
		return &InvalidDescriptorError{ID: d.ID, Reason: describeValidation(err)}
	}

	actionIDs := make([]string, 0, len(d.Actions))
	for _, a := range d.Actions {
		actionIDs = append(actionIDs, a.ID)
	}
	reactionIDs := make([]string, 0, len(d.Reactions))
	for _, re := range d.Reactions {
		reactionIDs = append(reactionIDs, re.ID)
	}
	if err := checkIDs(d.ID, "action", actionIDs); err != nil {
		return err
	}
	if err := checkIDs(d.ID, "reaction", reactionIDs); err != nil {
		return err
	}

	schemas := make(map[string]*jsonschema.Schema)
	for _, a := range d.Actions {
		if err := compileInto(schemas, "action:"+a.ID, a.ConfigSchema); err != nil {
			return &InvalidDescriptorError{ID: d.ID, Reason: fmt.Sprintf("action %s config schema: %v", a.ID, err)}
		}
	}
	for _, re := range d.Reactions {
		if err := compileInto(schemas, "reaction:"+re.ID, re.ConfigSchema); err != nil {
			return &InvalidDescriptorError{ID: d.ID, Reason: fmt.Sprintf("reaction %s config schema: %v", re.ID, err)}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[d.ID]; exists {
		return &DuplicateProviderError{ID: d.ID}
	}

	stored := d
	stored.Actions = append([]ActionDescriptor(nil), d.Actions...)
	stored.Reactions = append([]ReactionDescriptor(nil), d.Reactions...)
	r.providers[d.ID] = &stored
	for i := range stored.Actions {
		r.actions[stored.Actions[i].ID] = &stored.Actions[i]
	}
	for i := range stored.Reactions {
		r.reactions[stored.Reactions[i].ID] = &stored.Reactions[i]
	}
	for k, s := range schemas {
		r.schemas[k] = s
	}

	r.logger.Info("Registered service",
		logging.Field{Key: "service", Value: d.ID},
		logging.Field{Key: "actions", Value: len(d.Actions)},
		logging.Field{Key: "reactions", Value: len(d.Reactions)},
	)
	return nil
}

// Unregister removes a provider. Unknown ids are ignored with a warning.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.providers[id]
	if !ok {
		r.logger.Warn("Unregister of unknown service", logging.Field{Key: "service", Value: id})
		return
	}
	for _, a := range d.Actions {
		delete(r.actions, a.ID)
		delete(r.schemas, "action:"+a.ID)
	}
	for _, re := range d.Reactions {
		delete(r.reactions, re.ID)
		delete(r.schemas, "reaction:"+re.ID)
	}
	delete(r.providers, id)
}

func (r *Registry) GetActionByType(actionType string) (*ActionDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[actionType]
	return a, ok
}

func (r *Registry) GetReactionByType(reactionType string) (*ReactionDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	re, ok := r.reactions[reactionType]
	return re, ok
}

func (r *Registry) GetAllActions() []*ActionDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ActionDescriptor, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a)
	}
	return out
}

func (r *Registry) GetAllReactions() []*ReactionDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ReactionDescriptor, 0, len(r.reactions))
	for _, re := range r.reactions {
		out = append(out, re)
	}
	return out
}

// Get returns the descriptor registered under id.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.providers[id]
	return d, ok
}

// List returns every descriptor sorted by id.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	out := make([]*Descriptor, 0, len(r.providers))
	for _, d := range r.providers {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ValidateActionConfig checks a mapping's action config against the action's
// config schema. Actions without a schema accept any config.
func (r *Registry) ValidateActionConfig(actionType string, config map[string]interface{}) error {
	if _, ok := r.GetActionByType(actionType); !ok {
		return errors.NotFoundError(fmt.Sprintf("action %s", actionType))
	}
	return r.validateConfig("action:"+actionType, actionType, config)
}

// ValidateReactionConfig checks a mapping's reaction config against the
// reaction's config schema.
func (r *Registry) ValidateReactionConfig(reactionType string, config map[string]interface{}) error {
	if _, ok := r.GetReactionByType(reactionType); !ok {
		return errors.NotFoundError(fmt.Sprintf("reaction %s", reactionType))
	}
	return r.validateConfig("reaction:"+reactionType, reactionType, config)
}

func (r *Registry) validateConfig(key, typ string, config map[string]interface{}) error {
	r.mu.RLock()
	schema := r.schemas[key]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]interface{}{}
	}
	inst, err := toJSONValue(config)
	if err != nil {
		return errors.ValidationError(fmt.Sprintf("config for %s is not valid JSON: %v", typ, err))
	}
	if err := schema.Validate(inst); err != nil {
		return errors.ValidationError(fmt.Sprintf("invalid config for %s: %s", typ, flatten(err)))
	}
	return nil
}

func checkIDs(provider, kind string, ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return &InvalidDescriptorError{ID: provider, Reason: fmt.Sprintf("duplicate %s id %s", kind, id)}
		}
		seen[id] = true
		if ProviderOf(id) != provider || !strings.Contains(id, ".") {
			return &InvalidDescriptorError{ID: provider, Reason: fmt.Sprintf("%s id %s must be prefixed with %s.", kind, id, provider)}
		}
	}
	return nil
}

func compileInto(dst map[string]*jsonschema.Schema, key string, schema map[string]interface{}) error {
	if len(schema) == 0 {
		return nil
	}
	doc, err := toJSONValue(schema)
	if err != nil {
		return err
	}

	url := "http://area-engine.local/schemas/" + strings.ReplaceAll(key, ":", "/") + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return err
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return err
	}
	dst[key] = compiled
	return nil
}

// toJSONValue round-trips v through encoding/json so numbers arrive in the
// form jsonschema expects.
func toJSONValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}

func flatten(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
