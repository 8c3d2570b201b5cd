package credential

import "errors"

// ErrNoCredentials is returned by Acquire when the pool holds no
// credentials (its primary+backup list was empty or all blank).
var ErrNoCredentials = errors.New("credential pool has no configured credentials")
