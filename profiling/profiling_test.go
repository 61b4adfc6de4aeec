package profiling

import (
	"testing"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/freeclip/config"
)

func TestStart_Disabled(t *testing.T) {
	p, err := Start(&config.ProfilingConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p != nil {
		t.Fatal("expected nil profiler when disabled")
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop() on nil profiler error = %v", err)
	}
}

func TestProfileTypes(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ProfilingConfig
		want []pyroscope.ProfileType
	}{
		{name: "none", cfg: config.ProfilingConfig{}, want: nil},
		{name: "cpu", cfg: config.ProfilingConfig{CPUProfile: true}, want: []pyroscope.ProfileType{pyroscope.ProfileCPU}},
		{
			name: "alloc and mutex",
			cfg:  config.ProfilingConfig{AllocProfile: true, MutexProfile: true},
			want: []pyroscope.ProfileType{
				pyroscope.ProfileAllocObjects, pyroscope.ProfileAllocSpace,
				pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProfileTypes(&tt.cfg)
			if len(got) != len(tt.want) {
				t.Fatalf("ProfileTypes() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ProfileTypes()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
