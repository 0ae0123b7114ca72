package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *ProcessSnapshot {
	return &ProcessSnapshot{
		ProcessID:       1234,
		ParentProcessID: 1,
		CreationTime:    1700000000,
		SystemInfo:      SystemInfo{OS: "linux", Arch: "amd64", Is64Bit: true},
		Modules: []Module{
			{Name: "/usr/bin/app", BaseAddress: 0x400000, Size: 0x10000},
			{Name: "/lib/libc.so.6", BaseAddress: 0x7f0000000000, Size: 0x200000},
		},
		Threads: []Thread{
			{ThreadID: 1234, SchedPriority: 20, StackBase: 0x7fff0000, StackSize: 0x8000, TLSAddress: 0x7fff8000, Context: []byte{1, 2, 3, 4}},
			{ThreadID: 1235, SchedPriority: 20},
		},
		MemoryRegions: []MemoryRegion{
			{BaseAddress: 0x7fff0000, Data: []byte("stack-bytes")},
		},
		Exception: &Exception{ThreadID: 1234, ExceptionCode: 11, ExceptionAddress: 0x401234, ContextAddress: 0x7fff1000},
		Annotations: map[string]string{
			"crashpad-version": "1",
			"product":          "crashcore",
		},
		TypedAnnotations: []Annotation{
			{Name: "crashpad-version", Type: AnnotationTypeString, Value: []byte("1")},
			{Name: "product", Type: AnnotationTypeString, Value: []byte("crashcore")},
		},
	}
}

// Property 7: round-trip.
func TestRoundTrip(t *testing.T) {
	snap := sampleSnapshot()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, snap))

	got, err := Parse(&buf)
	require.NoError(t, err)
	require.Equal(t, snap, got)
}

func TestRoundTripNoException(t *testing.T) {
	snap := sampleSnapshot()
	snap.Exception = nil

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, snap))

	got, err := Parse(&buf)
	require.NoError(t, err)
	require.Nil(t, got.Exception)
	require.Equal(t, snap, got)
}

func TestParseRejectsBadMagic(t *testing.T) {
	snap := sampleSnapshot()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, snap))

	corrupted := buf.Bytes()
	corrupted[0] ^= 0xff

	_, err := Parse(bytes.NewReader(corrupted))
	require.Error(t, err)
}

func TestSanitizationPolicyFiltersAnnotations(t *testing.T) {
	policy := &SanitizationPolicy{AllowedAnnotations: map[string]bool{"product": true}}
	in := map[string]string{"product": "crashcore", "secret": "do-not-keep"}
	out := policy.filterAnnotations(in)
	require.Equal(t, map[string]string{"product": "crashcore"}, out)
}

func TestNilSanitizationPolicyAllowsAll(t *testing.T) {
	var policy *SanitizationPolicy
	in := map[string]string{"a": "1"}
	require.Equal(t, in, policy.filterAnnotations(in))
}

func TestTypedAnnotationsSortedByName(t *testing.T) {
	in := map[string]string{"zeta": "9", "alpha": "1", "mid": "5"}
	out := typedAnnotations(in)
	require.Equal(t, []Annotation{
		{Name: "alpha", Type: AnnotationTypeString, Value: []byte("1")},
		{Name: "mid", Type: AnnotationTypeString, Value: []byte("5")},
		{Name: "zeta", Type: AnnotationTypeString, Value: []byte("9")},
	}, out)
}

func TestTypedAnnotationsEmptyIsNil(t *testing.T) {
	require.Nil(t, typedAnnotations(nil))
	require.Nil(t, typedAnnotations(map[string]string{}))
}
