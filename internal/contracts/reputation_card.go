// Package contracts holds the ABI fragments of the on-chain collaborators.
package contracts

// ReputationCardABI covers the surface this service consumes: template
// reads, the claim-history flag, signature-gated minting, and the events
// the cache syncs from.
const ReputationCardABI = `[
  {
    "type": "function",
    "name": "templates",
    "stateMutability": "view",
    "inputs": [{"name": "templateId", "type": "uint256"}],
    "outputs": [
      {"name": "issuer", "type": "address"},
      {"name": "maxSupply", "type": "uint256"},
      {"name": "currentSupply", "type": "uint256"},
      {"name": "tier", "type": "uint256"},
      {"name": "startTime", "type": "uint256"},
      {"name": "endTime", "type": "uint256"},
      {"name": "isPaused", "type": "bool"}
    ]
  },
  {
    "type": "function",
    "name": "hasProfileClaimed",
    "stateMutability": "view",
    "inputs": [
      {"name": "templateId", "type": "uint256"},
      {"name": "profileId", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "claimCard",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "user", "type": "address"},
      {"name": "profileOwner", "type": "address"},
      {"name": "templateId", "type": "uint256"},
      {"name": "nonce", "type": "uint256"},
      {"name": "tokenURI", "type": "string"},
      {"name": "signature", "type": "bytes"}
    ],
    "outputs": []
  },
  {
    "type": "event",
    "name": "TemplateCreated",
    "inputs": [
      {"name": "templateId", "type": "uint256", "indexed": true},
      {"name": "issuer", "type": "address", "indexed": true}
    ]
  },
  {
    "type": "event",
    "name": "CardIssued",
    "inputs": [
      {"name": "templateId", "type": "uint256", "indexed": true},
      {"name": "profileId", "type": "uint256", "indexed": true},
      {"name": "cardId", "type": "uint256", "indexed": false},
      {"name": "to", "type": "address", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "RoleGranted",
    "inputs": [
      {"name": "role", "type": "bytes32", "indexed": true},
      {"name": "account", "type": "address", "indexed": true},
      {"name": "sender", "type": "address", "indexed": true}
    ]
  },
  {
    "type": "event",
    "name": "RoleRevoked",
    "inputs": [
      {"name": "role", "type": "bytes32", "indexed": true},
      {"name": "account", "type": "address", "indexed": true},
      {"name": "sender", "type": "address", "indexed": true}
    ]
  }
]`

// ProfileRegistryABI is the fragment the profile-required eligibility
// check reads.
const ProfileRegistryABI = `[
  {
    "type": "function",
    "name": "hasProfile",
    "stateMutability": "view",
    "inputs": [{"name": "owner", "type": "address"}],
    "outputs": [{"name": "", "type": "bool"}]
  }
]`

// ERC20ABI is the minimal fragment the token-holder eligibility check uses.
const ERC20ABI = `[
  {
    "type": "function",
    "name": "balanceOf",
    "stateMutability": "view",
    "inputs": [{"name": "account", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}]
  }
]`
