package family

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory for tests and local runs.
// Membership in the same family implies mutual call authorization, which
// matches the closed-group product model.
type MemoryDirectory struct {
	mu      sync.RWMutex
	members map[string]map[string]Member   // family -> participant -> member
	devices map[string]map[string][]Device // family -> participant -> devices
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		members: make(map[string]map[string]Member),
		devices: make(map[string]map[string][]Device),
	}
}

func (d *MemoryDirectory) AddMember(m Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[m.FamilyID] == nil {
		d.members[m.FamilyID] = make(map[string]Member)
	}
	d.members[m.FamilyID][m.ID] = m
}

func (d *MemoryDirectory) AddDevice(familyID string, dev Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.devices[familyID] == nil {
		d.devices[familyID] = make(map[string][]Device)
	}
	d.devices[familyID][dev.ParticipantID] = append(d.devices[familyID][dev.ParticipantID], dev)
}

func (d *MemoryDirectory) Member(ctx context.Context, familyID, participantID string) (Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[familyID][participantID]
	if !ok {
		return Member{}, ErrNotFound
	}
	return m, nil
}

func (d *MemoryDirectory) CanCall(ctx context.Context, familyID, callerID, calleeID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fam, ok := d.members[familyID]
	if !ok {
		return false, nil
	}
	_, callerOK := fam[callerID]
	_, calleeOK := fam[calleeID]
	return callerOK && calleeOK && callerID != calleeID, nil
}

func (d *MemoryDirectory) Devices(ctx context.Context, familyID, participantID string) ([]Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	devs := d.devices[familyID][participantID]
	out := make([]Device, len(devs))
	copy(out, devs)
	return out, nil
}

func (d *MemoryDirectory) Contacts(ctx context.Context, familyID, participantID string) ([]Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Member
	for id, m := range d.members[familyID] {
		if id == participantID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
