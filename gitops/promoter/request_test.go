package promoter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/tagpromoter/gitops/promoter"
)

func TestEnvironment_Next(t *testing.T) {
	t.Parallel()

	assert.Equal(t, promoter.EnvPRE, promoter.EnvSIT.Next())
	assert.Equal(t, promoter.EnvPRD, promoter.EnvPRE.Next())
	assert.Equal(t, promoter.EnvPRD, promoter.EnvPRD.Next())
}

func TestParseEnvironment(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"sit", "pre", "prd"} {
		env, err := promoter.ParseEnvironment(s)
		require.NoError(t, err)
		assert.Equal(t, s, env.String())
	}

	for _, s := range []string{"", "SIT", "dev", " sit"} {
		_, err := promoter.ParseEnvironment(s)
		assert.ErrorIs(t, err, promoter.ErrInvalidRequest, s)
	}
}

func TestNewRequest_from_sit(t *testing.T) {
	t.Parallel()

	req, err := promoter.NewRequest(
		"myapp", "sit", promoter.Layout{},
	)
	require.NoError(t, err)

	assert.Equal(t, promoter.Request{
		Component:     "myapp",
		Source:        promoter.EnvSIT,
		Target:        promoter.EnvPRE,
		BranchName:    "pre-myapp",
		ReleaseName:   "pre-myapp",
		PrimaryPath:   "manifests/myapp/sit/immutable/values.yaml",
		SecondaryPath: "manifests/myapp/pre/immutable/values.yaml",
	}, req)
}

func TestNewRequest_from_pre(t *testing.T) {
	t.Parallel()

	req, err := promoter.NewRequest(
		"myapp", "pre", promoter.Layout{},
	)
	require.NoError(t, err)

	assert.Equal(t, promoter.EnvPRD, req.Target)
	assert.Equal(t, "prd-myapp", req.BranchName)
	assert.Equal(
		t, "manifests/myapp/prd/immutable/values.yaml", req.SecondaryPath,
	)
}

func TestNewRequest_rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		component string
		env       string
	}{
		{"empty component", "", "sit"},
		{"empty env", "myapp", ""},
		{"prd is not a source", "myapp", "prd"},
		{"unknown env", "myapp", "qa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := promoter.NewRequest(
				tt.component, tt.env, promoter.Layout{},
			)
			assert.ErrorIs(t, err, promoter.ErrInvalidRequest)
		})
	}
}

func TestNewLayout_custom_template(t *testing.T) {
	t.Parallel()

	layout, err := promoter.NewLayout("envs/{{env}}/{{ component }}.yaml")
	require.NoError(t, err)

	req, err := promoter.NewRequest("api", "sit", layout)
	require.NoError(t, err)

	assert.Equal(t, "envs/sit/api.yaml", req.PrimaryPath)
	assert.Equal(t, "envs/pre/api.yaml", req.SecondaryPath)
}

func TestNewLayout_unknown_placeholder(t *testing.T) {
	t.Parallel()

	_, err := promoter.NewLayout("{{region}}/{{component}}.yaml")
	assert.ErrorContains(t, err, "region")
}
