package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"

	"github.com/gridbase/gridbase/internal/model"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WALLET VAULT - Password-protected signing keys
// ═══════════════════════════════════════════════════════════════════════════════
//
// Keys rest as saltHex:ciphertextHex with an AES-256-GCM ciphertext under a
// PBKDF2-SHA256 derived key. Decryption happens once per wallet; decrypted
// accounts are cached for the life of the process.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	pbkdf2Iterations = 600_000
	saltLength       = 16
	keyLength        = 32
)

// ErrVault wraps all vault failures so callers can classify them as fatal to
// the affected bot only.
var ErrVault = errors.New("vault error")

var ErrLocked = fmt.Errorf("%w: vault is locked", ErrVault)

// Account is an unlocked signing identity.
type Account struct {
	WalletID string
	Address  common.Address
	Key      *ecdsa.PrivateKey
}

// Vault owns the wallet dictionary and hands out signing accounts.
type Vault struct {
	mu        sync.RWMutex
	password  string
	unlocked  bool
	wallets   map[string]model.WalletEntry
	primaryID string
	accounts  map[string]*Account
}

// New wraps a persisted wallet dictionary.
func New(wallets map[string]model.WalletEntry, primaryID string) *Vault {
	if wallets == nil {
		wallets = make(map[string]model.WalletEntry)
	}
	return &Vault{
		wallets:   wallets,
		primaryID: primaryID,
		accounts:  make(map[string]*Account),
	}
}

// Unlock stores the password for subsequent decryptions. It verifies the
// password eagerly against the primary wallet when one exists.
func (v *Vault) Unlock(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.password = password
	v.unlocked = true

	if v.primaryID != "" {
		if entry, ok := v.wallets[v.primaryID]; ok {
			if _, err := decryptKey(password, entry.EncryptedPrivateKey); err != nil {
				v.unlocked = false
				v.password = ""
				return fmt.Errorf("%w: wrong password", ErrVault)
			}
		}
	}

	log.Info().Int("wallets", len(v.wallets)).Msg("🔐 Vault unlocked")
	return nil
}

// Account returns the unlocked signing account for a wallet id.
func (v *Vault) Account(walletID string) (*Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accountLocked(walletID)
}

func (v *Vault) accountLocked(walletID string) (*Account, error) {
	if acct, ok := v.accounts[walletID]; ok {
		return acct, nil
	}
	if !v.unlocked {
		return nil, ErrLocked
	}
	entry, ok := v.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown wallet %s", ErrVault, walletID)
	}

	key, err := decryptKey(v.password, entry.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt wallet %s: %v", ErrVault, walletID, err)
	}

	acct := &Account{
		WalletID: walletID,
		Address:  crypto.PubkeyToAddress(key.PublicKey),
		Key:      key,
	}
	v.accounts[walletID] = acct
	return acct, nil
}

// AccountFor resolves the signing account for a bot: the primary wallet when
// useMainWallet is set, otherwise the wallet matching the bot's address.
func (v *Vault) AccountFor(bot *model.BotInstance) (*Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if bot.UseMainWallet {
		if v.primaryID == "" {
			return nil, fmt.Errorf("%w: no primary wallet configured", ErrVault)
		}
		return v.accountLocked(v.primaryID)
	}

	for id, entry := range v.wallets {
		if strings.EqualFold(entry.Address, bot.WalletAddress) {
			return v.accountLocked(id)
		}
	}
	return nil, fmt.Errorf("%w: no wallet for address %s", ErrVault, bot.WalletAddress)
}

// CreateWallet generates a fresh key and stores it encrypted. Returns the
// new wallet id.
func (v *Vault) CreateWallet(name, walletType string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.unlocked {
		return "", ErrLocked
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("%w: generate key: %v", ErrVault, err)
	}

	blob, err := encryptKey(v.password, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVault, err)
	}

	id := uuid.NewString()
	v.wallets[id] = model.WalletEntry{
		Address:             crypto.PubkeyToAddress(key.PublicKey).Hex(),
		EncryptedPrivateKey: blob,
		CreatedAt:           time.Now().UTC(),
		Name:                name,
		Type:                walletType,
	}
	if v.primaryID == "" {
		v.primaryID = id
	}

	log.Info().
		Str("wallet_id", id).
		Str("address", v.wallets[id].Address).
		Msg("🆕 Wallet created")

	return id, nil
}

// Wallets returns a copy of the dictionary for persistence.
func (v *Vault) Wallets() (map[string]model.WalletEntry, string) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make(map[string]model.WalletEntry, len(v.wallets))
	for id, entry := range v.wallets {
		out[id] = entry
	}
	return out, v.primaryID
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENCRYPTION
// ═══════════════════════════════════════════════════════════════════════════════

func encryptKey(password string, key *ecdsa.PrivateKey) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	plaintext := crypto.FromECDSA(key)
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

func decryptKey(password, blob string) (*ecdsa.PrivateKey, error) {
	parts := strings.SplitN(blob, ":", 2)
	if len(parts) != 2 {
		return nil, errors.New("malformed encrypted key")
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) < saltLength {
		return nil, errors.New("malformed salt")
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, errors.New("malformed ciphertext")
	}

	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.New("authentication failed")
	}

	return crypto.ToECDSA(plaintext)
}
