package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitgate/unitgate/types"
)

func TestNewOutputParser(t *testing.T) {
	parser := NewOutputParser()
	assert.NotNil(t, parser, "NewOutputParser should return non-nil parser")
}

func TestOutputParser_Parse(t *testing.T) {
	parser := NewOutputParser()

	tests := []struct {
		name         string
		output       string
		metadata     types.ValidatorMetadata
		wantStatus   types.TestStatus
		wantError    bool
		wantSubTests int
	}{
		{
			name:   "empty output",
			output: "",
			metadata: types.ValidatorMetadata{
				FuncName: "TestExample",
				Package:  "example/pkg",
			},
			wantStatus:   types.TestStatusFail,
			wantError:    true,
			wantSubTests: 0,
		},
		{
			name: "passing test",
			output: `{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg","Test":"TestExample"}
{"Time":"2023-05-01T12:00:01Z","Action":"pass","Package":"example/pkg","Test":"TestExample","Elapsed":1.0}`,
			metadata: types.ValidatorMetadata{
				FuncName: "TestExample",
				Package:  "example/pkg",
			},
			wantStatus:   types.TestStatusPass,
			wantError:    false,
			wantSubTests: 0,
		},
		{
			name: "failing test with output",
			output: `{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg","Test":"TestExample"}
{"Time":"2023-05-01T12:00:00.1Z","Action":"output","Package":"example/pkg","Test":"TestExample","Output":"Test failed with error\n"}
{"Time":"2023-05-01T12:00:01Z","Action":"fail","Package":"example/pkg","Test":"TestExample","Elapsed":1.0}`,
			metadata: types.ValidatorMetadata{
				FuncName: "TestExample",
				Package:  "example/pkg",
			},
			wantStatus:   types.TestStatusFail,
			wantError:    true,
			wantSubTests: 0,
		},
		{
			name: "skipped test",
			output: `{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg","Test":"TestExample"}
{"Time":"2023-05-01T12:00:01Z","Action":"skip","Package":"example/pkg","Test":"TestExample","Elapsed":1.0}`,
			metadata: types.ValidatorMetadata{
				FuncName: "TestExample",
				Package:  "example/pkg",
			},
			wantStatus:   types.TestStatusSkip,
			wantError:    false,
			wantSubTests: 0,
		},
		{
			name: "test with subtests",
			output: `{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg","Test":"TestExample"}
{"Time":"2023-05-01T12:00:00.1Z","Action":"start","Package":"example/pkg","Test":"TestExample/SubTest1"}
{"Time":"2023-05-01T12:00:00.2Z","Action":"pass","Package":"example/pkg","Test":"TestExample/SubTest1","Elapsed":0.1}
{"Time":"2023-05-01T12:00:00.3Z","Action":"start","Package":"example/pkg","Test":"TestExample/SubTest2"}
{"Time":"2023-05-01T12:00:00.4Z","Action":"fail","Package":"example/pkg","Test":"TestExample/SubTest2","Elapsed":0.1}
{"Time":"2023-05-01T12:00:01Z","Action":"fail","Package":"example/pkg","Test":"TestExample","Elapsed":1.0}`,
			metadata: types.ValidatorMetadata{
				FuncName: "TestExample",
				Package:  "example/pkg",
			},
			wantStatus:   types.TestStatusFail,
			wantError:    false,
			wantSubTests: 2,
		},
		{
			name: "package mode counts individual tests as subtests",
			output: `{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg"}
{"Time":"2023-05-01T12:00:00.1Z","Action":"run","Package":"example/pkg","Test":"TestOne"}
{"Time":"2023-05-01T12:00:00.2Z","Action":"pass","Package":"example/pkg","Test":"TestOne","Elapsed":0.1}
{"Time":"2023-05-01T12:00:00.3Z","Action":"run","Package":"example/pkg","Test":"TestTwo"}
{"Time":"2023-05-01T12:00:00.4Z","Action":"pass","Package":"example/pkg","Test":"TestTwo","Elapsed":0.1}
{"Time":"2023-05-01T12:00:01Z","Action":"pass","Package":"example/pkg","Elapsed":1.0}`,
			metadata: types.ValidatorMetadata{
				Package: "example/pkg",
				RunAll:  true,
			},
			wantStatus:   types.TestStatusPass,
			wantError:    false,
			wantSubTests: 2,
		},
		{
			name: "failing subtest fails the package",
			output: `{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg"}
{"Time":"2023-05-01T12:00:00.1Z","Action":"run","Package":"example/pkg","Test":"TestOne"}
{"Time":"2023-05-01T12:00:00.2Z","Action":"fail","Package":"example/pkg","Test":"TestOne","Elapsed":0.1}`,
			metadata: types.ValidatorMetadata{
				Package: "example/pkg",
				RunAll:  true,
			},
			wantStatus:   types.TestStatusFail,
			wantError:    false,
			wantSubTests: 1,
		},
		{
			name: "malformed lines are skipped",
			output: `not json at all
{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg","Test":"TestExample"}
{"Time":"2023-05-01T12:00:01Z","Action":"pass","Package":"example/pkg","Test":"TestExample","Elapsed":1.0}`,
			metadata: types.ValidatorMetadata{
				FuncName: "TestExample",
				Package:  "example/pkg",
			},
			wantStatus:   types.TestStatusPass,
			wantError:    false,
			wantSubTests: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parser.Parse([]byte(tt.output), tt.metadata)
			require.NotNil(t, result)

			assert.Equal(t, tt.wantStatus, result.Status)
			if tt.wantError {
				assert.Error(t, result.Error)
			} else {
				assert.NoError(t, result.Error)
			}
			assert.Len(t, result.SubTests, tt.wantSubTests)
		})
	}
}

func TestOutputParser_ParseDuration(t *testing.T) {
	parser := NewOutputParser()
	output := `{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg","Test":"TestExample"}
{"Time":"2023-05-01T12:00:02Z","Action":"pass","Package":"example/pkg","Test":"TestExample","Elapsed":2.0}`

	result := parser.Parse([]byte(output), types.ValidatorMetadata{
		FuncName: "TestExample",
		Package:  "example/pkg",
	})

	assert.Equal(t, 2*time.Second, result.Duration)
}

func TestOutputParser_ParseWithTimeout(t *testing.T) {
	parser := NewOutputParser()
	output := `{"Time":"2023-05-01T12:00:00Z","Action":"start","Package":"example/pkg","Test":"TestExample"}
{"Time":"2023-05-01T12:00:05Z","Action":"pass","Package":"example/pkg","Test":"TestExample","Elapsed":5.0}`
	metadata := types.ValidatorMetadata{
		FuncName: "TestExample",
		Package:  "example/pkg",
	}

	t.Run("under timeout keeps status", func(t *testing.T) {
		result := parser.ParseWithTimeout([]byte(output), metadata, time.Minute)
		assert.Equal(t, types.TestStatusPass, result.Status)
		assert.False(t, result.TimedOut)
	})

	t.Run("over timeout fails the test", func(t *testing.T) {
		result := parser.ParseWithTimeout([]byte(output), metadata, time.Second)
		assert.Equal(t, types.TestStatusFail, result.Status)
		assert.True(t, result.TimedOut)
		require.Error(t, result.Error)
		assert.Contains(t, result.Error.Error(), "exceeded timeout")
	})
}
