package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenenazirov/csrfguard/internal/csrf"
)

func TestPolicyRoundTrip(t *testing.T) {
	t.Parallel()

	custom, err := csrf.NewPolicy(false, []string{"b.example.com", "a.example.com"}, 0)
	require.NoError(t, err)

	policies := map[string]csrf.Policy{
		"default": csrf.DefaultPolicy(),
		"custom":  custom,
	}

	for _, format := range []Format{FormatYAML, FormatTOML} {
		for name, policy := range policies {
			t.Run(string(format)+"/"+name, func(t *testing.T) {
				data, err := EncodePolicy(policy, format)
				require.NoError(t, err)

				decoded, err := DecodePolicy(data, format)
				require.NoError(t, err)
				assert.Equal(t, policy.Enabled(), decoded.Enabled())
				assert.Equal(t, policy.ExemptOrigins(), decoded.ExemptOrigins())
				assert.Equal(t, policy.TimeLimit(), decoded.TimeLimit())

				again, err := EncodePolicy(decoded, format)
				require.NoError(t, err)
				assert.Equal(t, data, again)
			})
		}
	}
}

func TestEncodePolicyYAMLShape(t *testing.T) {
	t.Parallel()

	data, err := EncodePolicy(csrf.DefaultPolicy(), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, `enabled: true
exempt_list:
    - main.d6f1ho9rhq11e.amplifyapp.com
    - d6f1ho9rhq11e.amplifyapp.com
time_limit: 31536000
`, string(data))
}

func TestDecodePolicyTOML(t *testing.T) {
	t.Parallel()

	policy, err := DecodePolicy([]byte(`
enabled = true
exempt_list = ["app.example.com"]
time_limit = 86400
`), FormatTOML)
	require.NoError(t, err)

	assert.True(t, policy.Enabled())
	assert.Equal(t, []string{"app.example.com"}, policy.ExemptOrigins())
	assert.Equal(t, 24*time.Hour, policy.TimeLimit())
}

func TestDecodePolicyRejectsInvalid(t *testing.T) {
	t.Parallel()

	_, err := DecodePolicy([]byte("time_limit: -5\n"), FormatYAML)
	assert.ErrorIs(t, err, csrf.ErrInvalidPolicy)

	_, err = DecodePolicy([]byte("exempt_list = [\"bad host\"]\n"), FormatTOML)
	assert.ErrorIs(t, err, csrf.ErrInvalidPolicy)

	_, err = DecodePolicy([]byte("enabled: [\n"), FormatYAML)
	assert.Error(t, err)
}

func TestUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := EncodePolicy(csrf.DefaultPolicy(), Format("json"))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = DecodePolicy(nil, Format("json"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Format{"yaml": FormatYAML, "YML": FormatYAML, " toml ": FormatTOML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("ini")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	got, err := FormatFromPath("/etc/csrfguard/config.YAML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, got)

	got, err = FormatFromPath("settings.toml")
	require.NoError(t, err)
	assert.Equal(t, FormatTOML, got)

	_, err = FormatFromPath("settings")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
