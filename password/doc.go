// Package password implements Argon2id hashing and verification.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and hash use unpadded standard base64, as in the reference encoder.
// Length and character-class policy for new passwords lives in the root
// package validation rules, not here.
package password
