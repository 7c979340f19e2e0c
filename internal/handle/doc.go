/*
Package handle validates and canonicalizes signer handles.

A handle is the public display name of a signer. It is accepted when its
trimmed form is 2 to 25 characters long and matches ^@?[A-Za-z0-9_]+$, and
when neither the handle nor the accompanying comment trips the keyword filter.
Accepted handles are stored with a leading @:

	h, err := handle.Validate("ab", "", filter.Default())
	// h == "@ab"

Failures are sentinel errors (ErrTooShort, ErrOverflow, ErrInvalidSyntax,
ErrCommentOverflow) or a *DenylistError carrying the matched term.
*/
package handle
