package models

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to DeliveryStatus
		want     bool
	}{
		{DeliveryPending, DeliveryPending, true},
		{DeliveryPending, DeliveryDelivered, true},
		{DeliveryPending, DeliveryRead, true},
		{DeliveryDelivered, DeliveryRead, true},
		{DeliveryDelivered, DeliveryDelivered, true},
		{DeliveryDelivered, DeliveryPending, false},
		{DeliveryRead, DeliveryDelivered, false},
		{DeliveryRead, DeliveryPending, false},
		{DeliveryRead, DeliveryRead, true},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMessageMetadataRoundTrip(t *testing.T) {
	m := &Message{Metadata: map[string]any{"width": float64(100)}}
	if err := m.MarshalMetadata(); err != nil {
		t.Fatalf("MarshalMetadata: %v", err)
	}
	if len(m.MetadataRaw) == 0 {
		t.Fatal("expected non-empty MetadataRaw after marshaling non-nil metadata")
	}

	decoded := &Message{MetadataRaw: m.MetadataRaw}
	if err := decoded.UnmarshalMetadata(); err != nil {
		t.Fatalf("UnmarshalMetadata: %v", err)
	}
	if decoded.Metadata["width"] != float64(100) {
		t.Errorf("Metadata[\"width\"] = %v, want 100", decoded.Metadata["width"])
	}
}

func TestMessageMetadataNil(t *testing.T) {
	m := &Message{}
	if err := m.MarshalMetadata(); err != nil {
		t.Fatalf("MarshalMetadata: %v", err)
	}
	if m.MetadataRaw != nil {
		t.Errorf("MetadataRaw = %v, want nil for nil Metadata", m.MetadataRaw)
	}
}
