package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenFileExt    = ".token"
	sealVersion     = 1
	saltSize        = 16
	keySize         = 32
	pbkdf2Rounds    = 100000
	passphraseEnv   = "DSFETCH_PASSPHRASE"
	passphraseFile  = ".passphrase"
	passphraseBytes = 32
)

// TokenFileStore keeps one AES-GCM sealed file per profile in a directory.
// The profile name is bound into each seal, so a file renamed to another
// profile does not open.
type TokenFileStore struct {
	dir        string
	passphrase []byte
}

// sealedToken is the on-disk form of one profile
type sealedToken struct {
	Version int    `json:"v"`
	Salt    string `json:"salt"`
	Sealed  string `json:"sealed"`
}

// NewTokenFileStore opens dir, keyed by DSFETCH_PASSPHRASE or by a random
// passphrase generated once and kept in dir
func NewTokenFileStore(dir string) (*TokenFileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}
	if pass := os.Getenv(passphraseEnv); pass != "" {
		return &TokenFileStore{dir: dir, passphrase: []byte(pass)}, nil
	}
	pass, err := loadOrCreatePassphrase(filepath.Join(dir, passphraseFile))
	if err != nil {
		return nil, err
	}
	return &TokenFileStore{dir: dir, passphrase: pass}, nil
}

// NewTokenFileStoreWithPassphrase opens dir with a fixed passphrase
func NewTokenFileStoreWithPassphrase(dir, passphrase string) (*TokenFileStore, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}
	return &TokenFileStore{dir: dir, passphrase: []byte(passphrase)}, nil
}

func (s *TokenFileStore) Store(cred *Credential) error {
	if cred == nil || !validProfile(cred.Profile) {
		return ErrInvalidCredentials
	}
	plain, err := encodeCredential(cred)
	if err != nil {
		return err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	sealed, err := s.seal(plain, salt, cred.Profile)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sealedToken{
		Version: sealVersion,
		Salt:    base64.RawStdEncoding.EncodeToString(salt),
		Sealed:  base64.RawStdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, cred.Profile+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(cred.Profile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

func (s *TokenFileStore) Retrieve(profile string) (*Credential, error) {
	if !validProfile(profile) {
		return nil, ErrInvalidCredentials
	}
	data, err := os.ReadFile(s.path(profile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var file sealedToken
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if file.Version != sealVersion {
		return nil, fmt.Errorf("unsupported token file version %d", file.Version)
	}
	salt, err := base64.RawStdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	sealed, err := base64.RawStdEncoding.DecodeString(file.Sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}

	plain, err := s.open(sealed, salt, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token for profile %q: %w", profile, err)
	}
	return decodeCredential(plain, profile)
}

// List opens every token file; files that fail to open are skipped
func (s *TokenFileStore) List() ([]*Credential, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*"+tokenFileExt))
	if err != nil {
		return nil, err
	}
	creds := make([]*Credential, 0, len(paths))
	for _, p := range paths {
		cred, err := s.Retrieve(strings.TrimSuffix(filepath.Base(p), tokenFileExt))
		if err != nil {
			continue
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

func (s *TokenFileStore) Delete(profile string) error {
	if !validProfile(profile) {
		return ErrInvalidCredentials
	}
	if err := os.Remove(s.path(profile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

func (s *TokenFileStore) Exists(profile string) bool {
	_, err := s.Retrieve(profile)
	return err == nil
}

func (s *TokenFileStore) path(profile string) string {
	return filepath.Join(s.dir, profile+tokenFileExt)
}

func (s *TokenFileStore) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(s.passphrase, salt, pbkdf2Rounds, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal returns nonce || ciphertext with the profile as additional data
func (s *TokenFileStore) seal(plain, salt []byte, profile string) ([]byte, error) {
	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plain, []byte(profile)), nil
}

func (s *TokenFileStore) open(sealed, salt []byte, profile string) ([]byte, error) {
	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("sealed token too short")
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, []byte(profile))
}

func loadOrCreatePassphrase(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return data, nil
	}
	raw := make([]byte, passphraseBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate passphrase: %w", err)
	}
	pass := []byte(base64.RawURLEncoding.EncodeToString(raw))
	if err := os.WriteFile(path, pass, 0600); err != nil {
		return nil, fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}

// validProfile keeps profile names usable as file names
func validProfile(profile string) bool {
	return profile != "" && profile != "." && profile != ".." &&
		!strings.ContainsAny(profile, `/\`) && !strings.HasPrefix(profile, ".")
}
