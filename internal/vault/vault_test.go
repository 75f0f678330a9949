package vault

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/model"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	blob, err := encryptKey("hunter2", key)
	require.NoError(t, err)

	parts := strings.SplitN(blob, ":", 2)
	require.Len(t, parts, 2, "blob must be saltHex:ciphertextHex")
	assert.GreaterOrEqual(t, len(parts[0]), saltLength*2)

	got, err := decryptKey("hunter2", blob)
	require.NoError(t, err)
	assert.Equal(t, crypto.FromECDSA(key), crypto.FromECDSA(got))
}

func TestDecrypt_WrongPassword(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	blob, err := encryptKey("correct", key)
	require.NoError(t, err)

	_, err = decryptKey("wrong", blob)
	assert.Error(t, err)
}

func TestDecrypt_Malformed(t *testing.T) {
	for _, blob := range []string{"", "nocolon", "zz:zz", "abcd:1234"} {
		_, err := decryptKey("pw", blob)
		assert.Error(t, err, "blob %q", blob)
	}
}

func TestVault_CreateAndRetrieve(t *testing.T) {
	v := New(nil, "")
	require.NoError(t, v.Unlock("pw"))

	id, err := v.CreateWallet("main", "generated")
	require.NoError(t, err)

	acct, err := v.Account(id)
	require.NoError(t, err)
	assert.Equal(t, id, acct.WalletID)
	assert.NotNil(t, acct.Key)

	wallets, primary := v.Wallets()
	assert.Equal(t, id, primary)
	assert.Equal(t, acct.Address.Hex(), wallets[id].Address)
}

func TestVault_LockedRejects(t *testing.T) {
	v := New(nil, "")

	_, err := v.CreateWallet("main", "generated")
	assert.ErrorIs(t, err, ErrVault)

	_, err = v.Account("missing")
	assert.ErrorIs(t, err, ErrVault)
}

func TestVault_UnlockVerifiesPassword(t *testing.T) {
	seed := New(nil, "")
	require.NoError(t, seed.Unlock("pw"))
	id, err := seed.CreateWallet("main", "generated")
	require.NoError(t, err)
	wallets, _ := seed.Wallets()

	v := New(wallets, id)
	assert.Error(t, v.Unlock("not-the-password"))
	assert.NoError(t, v.Unlock("pw"))
}

func TestVault_AccountFor(t *testing.T) {
	v := New(nil, "")
	require.NoError(t, v.Unlock("pw"))
	id, err := v.CreateWallet("main", "generated")
	require.NoError(t, err)
	wallets, _ := v.Wallets()

	// Main-wallet bots resolve the primary.
	acct, err := v.AccountFor(&model.BotInstance{UseMainWallet: true})
	require.NoError(t, err)
	assert.Equal(t, id, acct.WalletID)

	// Address match is case-insensitive.
	acct, err = v.AccountFor(&model.BotInstance{
		WalletAddress: strings.ToLower(wallets[id].Address),
	})
	require.NoError(t, err)
	assert.Equal(t, id, acct.WalletID)

	_, err = v.AccountFor(&model.BotInstance{WalletAddress: "0x0000000000000000000000000000000000000001"})
	assert.ErrorIs(t, err, ErrVault)
}
