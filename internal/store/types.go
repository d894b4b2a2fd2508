package store

import "github.com/jaydenbeard/gotham-party-one/internal/mpc"

func init() {
	bind(TagKeyGenFirstMsg, mpc.KeyGenFirstMsg{})
	bind(TagCommWitness, mpc.CommWitness{})
	bind(TagEcKeyPair, mpc.EcKeyPair{})
	bind(TagPaillierKeyPair, mpc.PaillierKeyPair{})
	bind(TagParty1Private, mpc.Party1Private{})
	bind(TagParty2Public, mpc.Party2Public{})
	bind(TagPDLDecommit, mpc.PDLDecommit{})
	bind(TagAlpha, mpc.Alpha{})
	bind(TagParty2PDLFirstMsg, mpc.Party2PDLFirstMsg{})
	bind(TagCCKeyGenFirstMsg, mpc.CCKeyGenFirstMsg{})
	bind(TagCCCommWitness, mpc.CCCommWitness{})
	bind(TagCCEcKeyPair, mpc.CCEcKeyPair{})
	bind(TagCC, mpc.CC{})
	bind(TagParty1MasterKey, mpc.MasterKey1{})
	bind(TagEphEcKeyPair, mpc.EphEcKeyPair{})
	bind(TagEphKeyGenFirstMsg, mpc.EphKeyGenFirstMsg{})
	bind(TagPOS, mpc.POS{})
	bind(TagAbort, mpc.Abort{})
	bind(TagRotateCommitMessage1, mpc.RotateCommitMessage1{})
	bind(TagRotateRandom1, mpc.RotateRandom1{})
	bind(TagRotateFirstMsg, mpc.RotateFirstMsg{})
	bind(TagRotatePrivateNew, mpc.RotatePrivateNew{})
	bind(TagRotatePdlDecom, mpc.RotatePdlDecom{})
	bind(TagRotateParty2First, mpc.RotateParty2First{})
	bind(TagRotateParty1Second, mpc.RotateParty1Second{})
	bind(TagRotateAlpha, mpc.RotateAlpha{})
}
