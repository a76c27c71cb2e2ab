package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestCall_Fields(t *testing.T) {
	typ := reflect.TypeOf(Call{})

	assertGormTag(t, typ, "CallID", "primaryKey")
	assertGormTag(t, typ, "CallID", "size:128")
	assertGormTag(t, typ, "State", "default:IN_PROGRESS")
	assertGormTag(t, typ, "State", "index")
	assertGormTag(t, typ, "TotalPacketsReceived", "default:0")
	assertGormTag(t, typ, "ExpectedNextSequence", "default:0")
	assertGormTag(t, typ, "MissingSequences", "type:json")
	assertGormTag(t, typ, "Transcription", "type:text")
	assertGormTag(t, typ, "Sentiment", "size:32")

	assertFieldType(t, typ, "CallID", "string")
	assertFieldType(t, typ, "State", "models.CallState")
	assertFieldType(t, typ, "ExpectedTotalPackets", "*int")
	assertFieldType(t, typ, "MissingSequences", "datatypes.JSONSlice[int]")
	assertFieldType(t, typ, "Transcription", "*string")
	assertFieldType(t, typ, "Sentiment", "*string")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
	assertFieldType(t, typ, "UpdatedAt", "time.Time")
}

func TestCall_Relations(t *testing.T) {
	typ := reflect.TypeOf(Call{})

	assertGormTag(t, typ, "Packets", "foreignKey:CallID")
	assertGormTag(t, typ, "Packets", "OnDelete:CASCADE")
	assertFieldType(t, typ, "Packets", "[]models.Packet")
}

func TestPacket_Fields(t *testing.T) {
	typ := reflect.TypeOf(Packet{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "CallID", "not null")
	assertGormTag(t, typ, "CallID", "uniqueIndex:uq_call_sequence")
	assertGormTag(t, typ, "Sequence", "uniqueIndex:uq_call_sequence")
	assertGormTag(t, typ, "Data", "type:text")
	assertGormTag(t, typ, "Data", "not null")
	assertGormTag(t, typ, "Timestamp", "not null")

	assertFieldType(t, typ, "ID", "uint")
	assertFieldType(t, typ, "Sequence", "int")
	assertFieldType(t, typ, "Timestamp", "float64")
	assertFieldType(t, typ, "ReceivedAt", "time.Time")
}

func TestCallState_Terminal(t *testing.T) {
	tests := []struct {
		state CallState
		want  bool
	}{
		{StateInProgress, false},
		{StateCompleted, false},
		{StateProcessingAI, false},
		{StateArchived, true},
		{StateFailed, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestCall_HasMissing(t *testing.T) {
	c := Call{MissingSequences: []int{2, 5, 9}}
	if !c.HasMissing(5) {
		t.Error("HasMissing(5) = false, want true")
	}
	if c.HasMissing(3) {
		t.Error("HasMissing(3) = true, want false")
	}
	var empty Call
	if empty.HasMissing(0) {
		t.Error("empty call should have no missing sequences")
	}
}
