package objmesh

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/raskyld/objmesh/pkg/meta"
	"github.com/raskyld/objmesh/pkg/signature"
)

// MemberOption documents a method or signal while it is advertised.
type MemberOption func(*meta.Builder)

func WithDescription(desc string) MemberOption {
	return func(b *meta.Builder) {
		b.SetDescription(desc)
	}
}

// WithParameter documents the next parameter.
func WithParameter(name, desc string) MemberOption {
	return func(b *meta.Builder) {
		b.AddParameter(name, desc)
	}
}

func WithReturnDescription(desc string) MemberOption {
	return func(b *meta.Builder) {
		b.SetReturnDescription(desc)
	}
}

type methodEntry struct {
	desc     meta.MethodDescriptor
	params   signature.Signature
	callable Callable
}

// ObjectBuilder accumulates the methods and signals of an object, then
// seals them into a `GenericObject`.
//
// The first error is sticky: every later call and `Object` return it.
type ObjectBuilder struct {
	cfg    *config
	logger *slog.Logger

	lk          sync.Mutex
	methods     *iradix.Txn
	methodDescs []meta.MethodDescriptor
	signals     map[string]*Signal
	signalDescs []meta.SignalDescriptor
	lastUID     uint32
	err         error
	sealed      *GenericObject
}

func NewObjectBuilder(opts ...Option) *ObjectBuilder {
	cfg := &config{}
	var err error
	for _, opt := range opts {
		if optErr := opt(cfg); optErr != nil {
			err = fmt.Errorf("%w: %w", ErrInvalidCfg, optErr)
			break
		}
	}

	logger := cfg.logger()
	if cfg.name != "" {
		logger = logger.With(LabelObject.L(cfg.name))
	}

	return &ObjectBuilder{
		cfg:     cfg,
		logger:  logger,
		methods: iradix.New().Txn(),
		signals: make(map[string]*Signal),
		err:     err,
	}
}

// AdvertiseMethod registers c under sig, "name::(params)" optionally
// followed by ":ret", and returns the method uid.
//
// Unless c is dynamic its parameters must equal the advertised ones. When
// sig names a return type it overrides the one of c.
func (b *ObjectBuilder) AdvertiseMethod(sig string, c Callable, opts ...MemberOption) (uint32, error) {
	b.lk.Lock()
	defer b.lk.Unlock()
	if err := b.usable(); err != nil {
		return 0, err
	}

	uid, err := b.advertiseMethod(sig, c, opts)
	if err != nil {
		b.err = err
		return 0, err
	}
	return uid, nil
}

func (b *ObjectBuilder) advertiseMethod(sig string, c Callable, opts []MemberOption) (uint32, error) {
	if c.IsZero() {
		return 0, fmt.Errorf("%w: %q has no callable", ErrInvalidCfg, sig)
	}
	comp, err := signature.Split(sig)
	if err != nil {
		return 0, err
	}
	params, err := comp.ParamTypes()
	if err != nil {
		return 0, err
	}
	key := comp.Key()
	if _, exists := b.methods.Get([]byte(key)); exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateMethod, key)
	}
	if !c.IsDynamic() && !c.Params().Equal(params) {
		return 0, fmt.Errorf(
			"%w: %s advertised with a callable taking %s",
			ErrArityOrTypeMismatch, key, signature.TupleOf(c.Params()...),
		)
	}

	if comp.Return != "" {
		ret, err := signature.ParseType(comp.Return)
		if err != nil {
			return 0, err
		}
		c.ret = ret
	}
	ret := ""
	if c.ret.Code != 0 {
		ret = c.ret.String()
	}

	mb := &meta.Builder{}
	for _, opt := range opts {
		opt(mb)
	}

	b.lastUID++
	entry := &methodEntry{
		desc:     mb.Method(b.lastUID, comp.Name, key, ret),
		params:   params,
		callable: c,
	}
	b.methods.Insert([]byte(key), entry)
	b.methodDescs = append(b.methodDescs, entry.desc)
	b.logger.Debug("method advertised", LabelMethod.L(entry.desc))
	return entry.desc.UID, nil
}

// AdvertiseSignal registers a signal from its "name::(params)" signature and
// returns its uid. Signal names are not overloadable.
func (b *ObjectBuilder) AdvertiseSignal(sig string, opts ...MemberOption) (uint32, error) {
	b.lk.Lock()
	defer b.lk.Unlock()
	if err := b.usable(); err != nil {
		return 0, err
	}

	uid, err := b.advertiseSignal(sig, opts)
	if err != nil {
		b.err = err
		return 0, err
	}
	return uid, nil
}

func (b *ObjectBuilder) advertiseSignal(sig string, opts []MemberOption) (uint32, error) {
	comp, err := signature.Split(sig)
	if err != nil {
		return 0, err
	}
	params, err := comp.ParamTypes()
	if err != nil {
		return 0, err
	}
	if _, exists := b.signals[comp.Name]; exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateSignal, comp.Name)
	}

	mb := &meta.Builder{}
	for _, opt := range opts {
		opt(mb)
	}

	b.lastUID++
	desc := mb.Signal(b.lastUID, comp.Name, comp.Key())
	b.signals[comp.Name] = newSignal(comp.Name, params, b.cfg)
	b.signalDescs = append(b.signalDescs, desc)
	b.logger.Debug("signal advertised", LabelSignal.L(desc))
	return desc.UID, nil
}

// Object seals the builder. It returns the same object on every call, or the
// first error met while building.
func (b *ObjectBuilder) Object() (*GenericObject, error) {
	b.lk.Lock()
	defer b.lk.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	if b.sealed != nil {
		return b.sealed, nil
	}

	id := uuid.New()
	name := b.cfg.name
	if name == "" {
		name = id.String()
	}

	obj := &GenericObject{
		id:          id,
		name:        name,
		logger:      b.logger.With(LabelObjectID.L(id.String())),
		msink:       b.cfg.sink(),
		labels:      withLabels(b.cfg.metricLabels, LabelObject.M(name)),
		methods:     b.methods.Commit(),
		methodDescs: b.methodDescs,
		signals:     b.signals,
		signalDescs: b.signalDescs,
		signalByUID: make(map[uint32]*Signal, len(b.signalDescs)),
		links:       make(map[ObjectLink]*WeakGuard[GenericObject]),
	}
	obj.loop = b.cfg.loop
	for _, desc := range b.signalDescs {
		obj.signalByUID[desc.UID] = b.signals[desc.Name]
	}

	b.sealed = obj
	b.methods = nil
	return obj, nil
}

// usable MUST be called with lk held.
func (b *ObjectBuilder) usable() error {
	if b.err != nil {
		return b.err
	}
	if b.sealed != nil {
		return ErrObjectSealed
	}
	return nil
}
