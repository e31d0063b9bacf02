package app

import (
	"fmt"

	"relsync/internal/codec"
	"relsync/internal/release"
)

// packCodec returns the configured codec for writing. Sealing only needs the
// public key.
func (a *ReleaseApp) packCodec() (release.Codec, error) {
	c, err := codec.NewCodecFromConfig(a.cfg.Codec, a.encryptor, nil)
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}
	return c, nil
}

// applyCodec returns the configured codec for reading, unlocking the
// private key first when releases are sealed.
func (a *ReleaseApp) applyCodec() (release.Codec, error) {
	var dec release.DecryptionContext
	if a.cfg.Codec.Sealed {
		passphrase, err := a.passphrase()
		if err != nil {
			return nil, err
		}
		dec, err = a.encryptor.Unlock(passphrase)
		if err != nil {
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
	}
	c, err := codec.NewCodecFromConfig(a.cfg.Codec, a.encryptor, dec)
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}
	return c, nil
}

func (a *ReleaseApp) closeCodec(c release.Codec) {
	if err := codec.Close(c); err != nil {
		a.logger.Warn("closing codec", "codec", c.Name(), "error", err)
	}
}
