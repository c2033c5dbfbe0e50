package rules

import (
	"github.com/google/uuid"

	"github.com/fleetpulse/alertcore/internal/errors"
)

// Builder assembles a condition tree through scoped operations. StartGroup
// opens a nested group that receives subsequent conditions until EndGroup.
// A Builder is not safe for concurrent use.
type Builder struct {
	root      *Group
	current   *Group
	stack     []*Group
	validator *Validator
	newID     func() string
	warnings  []string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithValidatorOptions sets the limits Build validates against.
func WithValidatorOptions(opts ValidatorOptions) BuilderOption {
	return func(b *Builder) {
		b.validator = NewValidator(opts)
	}
}

// WithIDGenerator replaces the uuid node id generator.
func WithIDGenerator(fn func() string) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.newID = fn
		}
	}
}

// NewBuilder starts a tree whose root group uses rootLogic.
func NewBuilder(rootLogic Logic, opts ...BuilderOption) (*Builder, error) {
	logic, ok := ParseLogic(string(rootLogic))
	if !ok {
		return nil, errors.NewValidationError("logic", "invalid logic \""+string(rootLogic)+"\"")
	}
	b := &Builder{
		validator: NewValidator(DefaultValidatorOptions()),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.root = &Group{ID: b.newID(), Logic: logic, Rules: []Node{}}
	b.current = b.root
	return b, nil
}

// RootID returns the id of the root group.
func (b *Builder) RootID() string {
	return b.root.ID
}

// StartGroup appends a group with the given logic to the active group and
// makes it the active group. It returns the new group's id.
func (b *Builder) StartGroup(logic Logic) (string, error) {
	parsed, ok := ParseLogic(string(logic))
	if !ok {
		return "", errors.NewValidationError("logic", "invalid logic \""+string(logic)+"\"")
	}
	g := &Group{ID: b.newID(), Logic: parsed, Rules: []Node{}}
	b.current.Rules = append(b.current.Rules, g)
	b.stack = append(b.stack, b.current)
	b.current = g
	return g.ID, nil
}

// EndGroup closes the active group and returns to its parent.
func (b *Builder) EndGroup() error {
	if len(b.stack) == 0 {
		return errors.NewValidationError("group", "no open group to end")
	}
	b.current = b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return nil
}

// Depth returns the number of open nested groups.
func (b *Builder) Depth() int {
	return len(b.stack)
}

// AddCondition appends a condition to the active group and returns its id.
func (b *Builder) AddCondition(ct ConditionType, operator string, value any) (string, error) {
	c := &Condition{Type: ct, Operator: operator, Value: value}
	if err := checkLeaf(c); err != nil {
		return "", err
	}
	c.ID = b.newID()
	b.current.Rules = append(b.current.Rules, c)
	return c.ID, nil
}

// AddCustomCondition appends a condition on the data key field.
func (b *Builder) AddCustomCondition(field, operator string, value any) (string, error) {
	c := &Condition{Type: ConditionCustom, Operator: operator, Value: value, Field: field}
	if err := checkLeaf(c); err != nil {
		return "", err
	}
	if field == "" {
		return "", errors.NewValidationError("condition", "custom condition requires a field")
	}
	c.ID = b.newID()
	b.current.Rules = append(b.current.Rules, c)
	return c.ID, nil
}

func checkLeaf(c *Condition) error {
	verr := errors.NewValidationError("condition")
	if !c.Type.Valid() {
		verr.Add("unknown condition type %q", c.Type)
	}
	if !IsOperator(c.Operator) {
		verr.Add("unknown operator %q", c.Operator)
	}
	if c.Value == nil {
		verr.Add("value is required")
	}
	if verr.HasIssues() {
		return verr
	}
	return nil
}

// Find returns the node with id.
func (b *Builder) Find(id string) (Node, bool) {
	n, _, ok := b.root.Find(id)
	return n, ok
}

// Update replaces the operator and value of the condition with id.
func (b *Builder) Update(id, operator string, value any) error {
	n, ok := b.Find(id)
	if !ok {
		return errors.NewValidationError("condition", "no node with id "+id)
	}
	c, ok := n.(*Condition)
	if !ok {
		return errors.NewValidationError("condition", "node "+id+" is a group")
	}
	candidate := &Condition{Type: c.Type, Operator: operator, Value: value}
	if err := checkLeaf(candidate); err != nil {
		return err
	}
	c.Operator = operator
	c.Value = value
	return nil
}

// SetLogic changes the logic of the group with id.
func (b *Builder) SetLogic(id string, logic Logic) error {
	parsed, ok := ParseLogic(string(logic))
	if !ok {
		return errors.NewValidationError("logic", "invalid logic \""+string(logic)+"\"")
	}
	n, found := b.Find(id)
	if !found {
		return errors.NewValidationError("group", "no node with id "+id)
	}
	g, isGroup := n.(*Group)
	if !isGroup {
		return errors.NewValidationError("group", "node "+id+" is a condition")
	}
	g.Logic = parsed
	return nil
}

// Remove deletes the node with id from its parent. The root and groups that
// are still open cannot be removed.
func (b *Builder) Remove(id string) error {
	n, parent, ok := b.root.Find(id)
	if !ok {
		return errors.NewValidationError("node", "no node with id "+id)
	}
	if parent == nil {
		return errors.NewValidationError("node", "the root group cannot be removed")
	}
	if g, isGroup := n.(*Group); isGroup && b.isOpen(g) {
		return errors.NewValidationError("node", "group "+id+" is still open")
	}
	for i, child := range parent.Rules {
		if child == n {
			parent.Rules = append(parent.Rules[:i], parent.Rules[i+1:]...)
			break
		}
	}
	return nil
}

func (b *Builder) isOpen(g *Group) bool {
	if g == b.current {
		return true
	}
	for _, open := range b.stack {
		if open == g {
			return true
		}
	}
	return false
}

// Build validates the tree and returns a copy of it. Warnings from the last
// Build are available from Warnings.
func (b *Builder) Build() (*Group, error) {
	if len(b.stack) > 0 {
		return nil, errors.NewValidationError("group", "unterminated group: EndGroup must be called for every StartGroup")
	}
	res := b.validator.ValidateGroup(b.root)
	b.warnings = res.Warnings
	if err := res.Err("conditions"); err != nil {
		return nil, err
	}
	return b.root.Clone(), nil
}

// Warnings returns the warnings recorded by the last Build.
func (b *Builder) Warnings() []string {
	return b.warnings
}
