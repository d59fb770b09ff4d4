package domain

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() *[32]byte {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	return &key
}

func TestParseSecretRef(t *testing.T) {
	tests := []struct {
		raw  string
		want SecretRef
	}{
		{"ENV:SMTP_PASSWORD", SecretRef{Kind: SecretEnv, Value: "SMTP_PASSWORD"}},
		{"KEY:abc", SecretRef{Kind: SecretInline, Value: "abc"}},
		{"hunter2", SecretRef{Kind: SecretLiteral, Value: "hunter2"}},
		{"", SecretRef{Kind: SecretLiteral, Value: ""}},
		{"env:lowercase", SecretRef{Kind: SecretLiteral, Value: "env:lowercase"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ref := ParseSecretRef(tt.raw)
			assert.Equal(t, tt.want, ref)
			assert.Equal(t, tt.raw, ref.String())
		})
	}
}

func TestResolveSecret_Env(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "SMTP_PASSWORD" {
			return "from-env", true
		}
		return "", false
	}

	value, err := ResolveSecret(ParseSecretRef("ENV:SMTP_PASSWORD"), lookup, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	_, err = ResolveSecret(ParseSecretRef("ENV:MISSING"), lookup, nil)
	assert.ErrorIs(t, err, ErrSecretEnvUnset)
}

func TestResolveSecret_Literal(t *testing.T) {
	value, err := ResolveSecret(ParseSecretRef("plain"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", value)
}

func TestResolveSecret_Inline(t *testing.T) {
	key := testKey()

	sealed, err := SealSecret("s3cret", key)
	require.NoError(t, err)

	value, err := ResolveSecret(ParseSecretRef(sealed), nil, key)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", value)

	t.Run("without key", func(t *testing.T) {
		_, err := ResolveSecret(ParseSecretRef(sealed), nil, nil)
		assert.ErrorIs(t, err, ErrSecretKeyMissing)
	})

	t.Run("wrong key", func(t *testing.T) {
		var other [32]byte
		_, err := ResolveSecret(ParseSecretRef(sealed), nil, &other)
		assert.ErrorIs(t, err, ErrSecretMalformed)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ResolveSecret(ParseSecretRef("KEY:@@@"), nil, key)
		assert.ErrorIs(t, err, ErrSecretMalformed)
	})
}

func TestSecretRef_JSON(t *testing.T) {
	profile := MailProfile{ID: 1, Secret: ParseSecretRef("ENV:PW")}

	data, err := json.Marshal(profile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"secret":"ENV:PW"`)

	var decoded MailProfile
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, SecretRef{Kind: SecretEnv, Value: "PW"}, decoded.Secret)
}

func TestParseSecretKey(t *testing.T) {
	key, err := ParseSecretKey("")
	require.NoError(t, err)
	assert.Nil(t, key)

	encoded := base64.StdEncoding.EncodeToString(testKey()[:])
	key, err = ParseSecretKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)

	_, err = ParseSecretKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestSecurityMode_Normalize(t *testing.T) {
	assert.Equal(t, SecurityNone, SecurityMode(0).Normalize())
	assert.Equal(t, SecurityStartTLS, SecurityMode(1).Normalize())
	assert.Equal(t, SecurityImplicitTLS, SecurityMode(2).Normalize())
	assert.Equal(t, SecurityStartTLS, SecurityMode(7).Normalize())
	assert.Equal(t, "starttls", SecurityMode(-1).String())
}

func TestParseChannelType(t *testing.T) {
	assert.Equal(t, ChannelTypeSMS, ParseChannelType("T"))
	assert.Equal(t, ChannelTypeEmail, ParseChannelType("E"))
	assert.Equal(t, ChannelTypeEmail, ParseChannelType(""))
}
