// Package secrets implements LuCLI's at-rest encrypted key/value store
// (C3): a PBKDF2-derived key protecting AES-256-GCM-encrypted values in
// {lucliHome}/secrets/local.json. It also implements config.SecretResolver
// so the placeholder substitutor can resolve ${secret:NAME} without this
// package's crypto details leaking into internal/config.
package secrets

import "time"

// FileName is the secret store's file name under the LuCLI home directory.
const FileName = "local.json"

// storeFile is the on-disk shape: a random salt used for
// key derivation plus the encrypted entries. The derived key itself is
// never persisted.
type storeFile struct {
	Salt    string              `json:"salt"` // base64
	Secrets map[string]entry `json:"secrets"`
}

type entry struct {
	Nonce       string    `json:"nonce"`      // base64
	Ciphertext  string    `json:"ciphertext"` // base64
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Info is the list-view of one secret: everything except its value.
type Info struct {
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
