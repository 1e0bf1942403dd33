package accessory

// Snapshot is the read-only view served over HTTP and MQTT.
type Snapshot struct {
	UUID        string            `json:"uuid"`
	DisplayName string            `json:"display_name"`
	External    bool              `json:"external,omitempty"`
	Services    []ServiceSnapshot `json:"services"`
}

type ServiceSnapshot struct {
	Type            string                   `json:"type"`
	Name            string                   `json:"name,omitempty"`
	Characteristics []CharacteristicSnapshot `json:"characteristics"`
}

type CharacteristicSnapshot struct {
	Type     string `json:"type"`
	Value    any    `json:"value"`
	Error    string `json:"error,omitempty"`
	Writable bool   `json:"writable,omitempty"`
	Props    *Props `json:"props,omitempty"`
}

func (a *Accessory) Snapshot() Snapshot {
	snap := Snapshot{UUID: a.UUID, DisplayName: a.DisplayName, External: a.External()}
	for _, s := range a.Services() {
		svc := ServiceSnapshot{Type: s.Type, Name: s.Name}
		for _, c := range s.Characteristics() {
			svc.Characteristics = append(svc.Characteristics, c.Snapshot())
		}
		snap.Services = append(snap.Services, svc)
	}
	return snap
}

func (c *Characteristic) Snapshot() CharacteristicSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := CharacteristicSnapshot{Type: c.Type, Value: c.value, Writable: c.onSet != nil}
	if c.err != nil {
		out.Error = c.err.Error()
	}
	if c.props.Min != nil || c.props.Max != nil || len(c.props.ValidValues) > 0 {
		props := c.props
		out.Props = &props
	}
	return out
}

// Snapshot lists every registered accessory.
func (b *Bridge) Snapshot() []Snapshot {
	accs := b.Accessories()
	out := make([]Snapshot, 0, len(accs))
	for _, acc := range accs {
		out = append(out, acc.Snapshot())
	}
	return out
}
