package account

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"enigma/internal/cryptographic/cryptoerr"
	"enigma/internal/cryptographic/encryption"
	"enigma/internal/cryptographic/kdf"
	"enigma/internal/model"
	"enigma/internal/protocol/x3dh"
	"enigma/internal/repository/kv"

	"golang.org/x/crypto/scrypt"
)

const sealedFormatVersion = 1

var (
	ErrNotFound           = errors.New("account: not found")
	ErrPassphraseRequired = errors.New("account: stored encrypted, passphrase required")
	ErrWrongPassphrase    = errors.New("account: wrong passphrase or corrupted record")
	ErrNotSealed          = errors.New("account: stored in the clear, but a passphrase is set")
)

type (
	AccountRepo struct {
		store      kv.Store
		rand       io.Reader
		passphrase []byte

		scryptN, scryptR, scryptP int
	}

	// sealed is the stored form of a passphrase-protected account. Salt is
	// also bound as associated data.
	sealed struct {
		V      int    `json:"v"`
		Salt   []byte `json:"salt"`
		N      int    `json:"scrypt_n"`
		R      int    `json:"scrypt_r"`
		P      int    `json:"scrypt_p"`
		Cipher []byte `json:"cipher"`
	}
)

func NewAccountRepo(store kv.Store) *AccountRepo {
	return &AccountRepo{
		store:   store,
		rand:    rand.Reader,
		scryptN: 1 << 15,
		scryptR: 8,
		scryptP: 1,
	}
}

// WithPassphrase makes the repo seal accounts it saves and open sealed ones
// it reads. An empty passphrase stores accounts in the clear.
func (r *AccountRepo) WithPassphrase(passphrase string) *AccountRepo {
	cp := *r
	cp.passphrase = []byte(passphrase)
	return &cp
}

func key(name string) string {
	return "account:" + name
}

func (r *AccountRepo) Get(ctx context.Context, name string) (*model.Account, error) {
	data, err := r.store.Get(ctx, key(name))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	raw, err := r.open(data)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(raw)

	var acc model.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", name, err)
	}
	return &acc, nil
}

func (r *AccountRepo) Save(ctx context.Context, acc *model.Account) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	data, err := r.seal(raw)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, key(acc.Name), data)
}

// LoadOrCreate returns the stored account for name, generating and saving
// fresh identity keys when there is none. created reports which happened.
func (r *AccountRepo) LoadOrCreate(ctx context.Context, rand io.Reader, name string) (acc *model.Account, created bool, err error) {
	acc, err = r.Get(ctx, name)
	if err == nil {
		return acc, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	keys, _, err := x3dh.GenerateIdentityBundle(rand)
	if err != nil {
		return nil, false, err
	}
	acc = &model.Account{
		Name:      name,
		Keys:      *keys,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.Save(ctx, acc); err != nil {
		return nil, false, err
	}
	return acc, true, nil
}

func (r *AccountRepo) seal(raw []byte) ([]byte, error) {
	if len(r.passphrase) == 0 {
		return raw, nil
	}
	defer kdf.Wipe(raw)

	salt := make([]byte, 16)
	if _, err := io.ReadFull(r.rand, salt); err != nil {
		return nil, err
	}
	k, err := scrypt.Key(r.passphrase, salt, r.scryptN, r.scryptR, r.scryptP, encryption.KeySize)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(k)

	engine, err := encryption.NewEngine(r.rand, k)
	if err != nil {
		return nil, err
	}
	ct, err := engine.Encrypt(raw, salt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealed{
		V:      sealedFormatVersion,
		Salt:   salt,
		N:      r.scryptN,
		R:      r.scryptR,
		P:      r.scryptP,
		Cipher: ct,
	})
}

func (r *AccountRepo) open(data []byte) ([]byte, error) {
	var s sealed
	if err := json.Unmarshal(data, &s); err != nil || s.V == 0 {
		// stored in the clear
		if len(r.passphrase) > 0 {
			return nil, ErrNotSealed
		}
		return data, nil
	}
	if s.V > sealedFormatVersion {
		return nil, fmt.Errorf("unsupported account format %d", s.V)
	}
	if len(r.passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}

	k, err := scrypt.Key(r.passphrase, s.Salt, s.N, s.R, s.P, encryption.KeySize)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(k)

	engine, err := encryption.NewEngineAt(k, [encryption.NonceSize]byte{})
	if err != nil {
		return nil, err
	}
	raw, err := engine.Decrypt(s.Cipher, s.Salt)
	if errors.Is(err, cryptoerr.ErrAuthFailure) || errors.Is(err, cryptoerr.ErrMalformedInput) {
		return nil, ErrWrongPassphrase
	}
	return raw, err
}
