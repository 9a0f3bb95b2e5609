package vm

import (
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/state"
)

// session is the engine's view of one invocation: resource access on the
// EffectSet, each access charged before it takes effect.
type session struct {
	es       *state.EffectSet
	meter    *gas.Meter
	schedule gas.Schedule
}

var _ engine.Store = (*session)(nil)

func (s *session) ReadResource(addr core.Address, tag core.TypeTag) ([]byte, bool, error) {
	if err := s.meter.ChargeBytes(s.schedule.StorageReadBase, s.schedule.StoragePerByte, len(tag)); err != nil {
		return nil, false, err
	}
	v, ok, err := s.es.ReadResource(addr, tag)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := s.meter.ChargeBytes(0, s.schedule.StoragePerByte, len(v)); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *session) WriteResource(addr core.Address, tag core.TypeTag, value []byte) error {
	if err := s.meter.ChargeBytes(s.schedule.StorageWriteBase, s.schedule.StoragePerByte, len(tag)+len(value)); err != nil {
		return err
	}
	return s.es.WriteResource(addr, tag, value)
}

func (s *session) DeleteResource(addr core.Address, tag core.TypeTag) error {
	if err := s.meter.ChargeBytes(s.schedule.StorageDeleteBase, s.schedule.StoragePerByte, len(tag)); err != nil {
		return err
	}
	return s.es.DeleteResource(addr, tag)
}
