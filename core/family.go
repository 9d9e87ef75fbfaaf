package core

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/trace"
)

// ReachabilityFamily is a set of reachability traces sharing tau and eta,
// one per delay, stored under "<prefix>.<delay>".
type ReachabilityFamily struct {
	Store  *trace.Store
	Prefix string
	Tau    int64
	Eta    int64

	delays []int64
}

// MemberName returns the trace name of the member with the given delay.
func MemberName(prefix string, delay int64) string {
	return prefix + "." + strconv.FormatInt(delay, 10)
}

// OpenFamily collects every reachability trace named "<prefix>.<delay>".
// All members must agree on tau and eta.
func OpenFamily(store *trace.Store, prefix string) (*ReachabilityFamily, error) {
	names, err := store.List()
	if err != nil {
		return nil, err
	}
	f := &ReachabilityFamily{Store: store, Prefix: prefix, Tau: -1}
	for _, name := range names {
		suffix, ok := strings.CutPrefix(name, prefix+".")
		if !ok {
			continue
		}
		delay, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		tr, err := trace.Open(store, trace.Reachability, name)
		if err != nil {
			return nil, err
		}
		if err := f.admit(tr.Properties(), delay); err != nil {
			return nil, fmt.Errorf("family %q member %q: %w", prefix, name, err)
		}
	}
	if len(f.delays) == 0 {
		return nil, fmt.Errorf("%w: family %q is empty", trace.ErrTraceNotFound, prefix)
	}
	return f, nil
}

func (f *ReachabilityFamily) admit(props trace.Properties, delay int64) error {
	tau, err := intProperty(props, trace.PropTau)
	if err != nil {
		return err
	}
	eta := stepOf(props)
	if f.Tau < 0 {
		f.Tau, f.Eta = tau, eta
	} else if tau != f.Tau || eta != f.Eta {
		return fmt.Errorf("%w: tau=%d eta=%d, family has tau=%d eta=%d", ErrBadParameter, tau, eta, f.Tau, f.Eta)
	}
	if i, found := slices.BinarySearch(f.delays, delay); !found {
		f.delays = slices.Insert(f.delays, i, delay)
	}
	return nil
}

// Delays returns the member delays in ascending order.
func (f *ReachabilityFamily) Delays() []int64 { return slices.Clone(f.delays) }

// MinDelay returns the smallest member delay.
func (f *ReachabilityFamily) MinDelay() int64 { return f.delays[0] }

// MaxDelay returns the largest member delay.
func (f *ReachabilityFamily) MaxDelay() int64 { return f.delays[len(f.delays)-1] }

// Has reports whether the family has a member for delay.
func (f *ReachabilityFamily) Has(delay int64) bool {
	_, found := slices.BinarySearch(f.delays, delay)
	return found
}

// Member opens the member trace for delay.
func (f *ReachabilityFamily) Member(delay int64) (*trace.Trace[model.ArcEvent, model.Arc], error) {
	if !f.Has(delay) {
		return nil, fmt.Errorf("%w: %q delay %d", ErrFamilyMember, f.Prefix, delay)
	}
	return trace.Open(f.Store, trace.Reachability, MemberName(f.Prefix, delay))
}

// composers returns the number of split points between tau-long hops.
func (f *ReachabilityFamily) composers() int64 {
	if f.Tau == 0 {
		return 1
	}
	return max(f.Tau/f.Eta, 1)
}

// BuildFamily derives the family "<prefix>.<d>" for every d in
// [tau, maxDelay] with step eta from an edges trace. The first member is
// one-hop reachability; later members compose the family with its first
// member when every needed split exists, and otherwise widen the previous
// member.
func BuildFamily(ctx context.Context, store *trace.Store, input, prefix string, tau, eta, maxDelay int64) (*ReachabilityFamily, error) {
	if tau <= 0 || eta <= 0 || tau%eta != 0 || maxDelay < tau {
		return nil, fmt.Errorf("%w: tau=%d eta=%d max delay=%d", ErrBadParameter, tau, eta, maxDelay)
	}
	log := loggerFrom(ctx)
	if err := NewEdgesToReachable(store, input, MemberName(prefix, tau), tau, eta).Convert(ctx); err != nil {
		return nil, err
	}
	fam, err := OpenFamily(store, prefix)
	if err != nil {
		return nil, err
	}
	for d := tau + eta; d <= maxDelay; d += eta {
		var c Converter
		if fam.composable(fam, d) {
			c = NewAddingReachable(store, fam, fam, MemberName(prefix, d), d)
		} else {
			c = NewUpperReachable(store, MemberName(prefix, d-eta), MemberName(prefix, d), d)
		}
		log.Debug(ctx, "building family member",
			logging.String("converter", c.Name()),
			logging.Int64("delay", d))
		if err := c.Convert(ctx); err != nil {
			return nil, fmt.Errorf("member %d: %w", d, err)
		}
		fam.delays = append(fam.delays, d)
	}
	return fam, nil
}

// composable reports whether delta family f and mu family mu hold every
// member a composition at delay needs.
func (f *ReachabilityFamily) composable(mu *ReachabilityFamily, delay int64) bool {
	for k := range mu.composers() {
		m := mu.MinDelay() + k*mu.Eta
		if !mu.Has(m) || delay-m >= delay || !f.Has(delay-m) {
			return false
		}
	}
	return true
}
