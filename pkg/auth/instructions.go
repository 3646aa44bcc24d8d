package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowTokenGuide explains how to create an access token for gated datasets
func ShowTokenGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "HUB ACCESS TOKEN")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Public datasets need no token. Gated or private datasets do.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  1. Sign in at https://huggingface.co")
	fmt.Fprintln(w, "  2. Open Settings > Access Tokens")
	fmt.Fprintln(w, "  3. Create a token with the \"read\" role")
	fmt.Fprintln(w, "  4. Accept the dataset's terms on its page if it is gated")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Tokens start with hf_. The token is stored in the system keychain")
	fmt.Fprintln(w, "when available and in an encrypted file otherwise. HF_TOKEN or")
	fmt.Fprintln(w, "DSFETCH_HUB_TOKEN in the environment take precedence at run time.")
	fmt.Fprintln(w, strings.Repeat("=", 72))
}
