package model

type (
	// Handshake travels with the initiator's first message so the responder
	// can rebuild the shared secret.
	Handshake struct {
		IKPub [32]byte `json:"ik_pub"`
		EKPub [32]byte `json:"ek_pub"`
	}

	// IdentityKeys is the private half of an account. IdentitySeed is the
	// Ed25519 seed; the X25519 identity scalar is derived from it.
	IdentityKeys struct {
		IdentitySeed []byte         `json:"identity_seed"`
		SPKPriv      [32]byte       `json:"spk_priv"`
		Bundle       IdentityBundle `json:"bundle"`
	}
)
