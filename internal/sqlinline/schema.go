package sqlinline

// QSchema creates the tables used by the postgres store. It is idempotent.
const QSchema = `--sql fd20d4cd-19b1-4f92-9b35-79dd43ef8300
create table if not exists jobs (
    id              text primary key,
    owner_id        text not null,
    provider        text not null,
    status          text not null,
    simulated       boolean not null default false,
    input_refs      jsonb not null default '{}'::jsonb,
    result_ref      text not null default '',
    failure_reason  text not null default '',
    idempotency_key text not null default '',
    usage_kind      text not null default '',
    usage_quantity  int not null default 0,
    charge_on       text not null default 'none',
    created_at      timestamptz not null default now(),
    updated_at      timestamptz not null default now()
);
create unique index if not exists jobs_idempotency_key_uq on jobs (idempotency_key) where idempotency_key <> '';
create index if not exists jobs_processing_updated_idx on jobs (updated_at) where status = 'processing';

create table if not exists accounts (
    owner_id            text primary key,
    subscription_active boolean not null default false,
    credits             int not null default 0 check (credits >= 0),
    updated_at          timestamptz not null default now()
);

create table if not exists usage_ledger (
    idempotency_key text primary key,
    owner_id        text not null,
    kind            text not null,
    quantity        int not null check (quantity > 0),
    status          text not null check (status in ('pending', 'success', 'denied')),
    denial_reason   text not null default '',
    created_at      timestamptz not null default now(),
    completed_at    timestamptz
);
create index if not exists usage_ledger_owner_idx on usage_ledger (owner_id, created_at desc);

create table if not exists regeneration_counters (
    artifact_id   text primary key,
    artifact_type text not null,
    used          int not null default 0,
    free_limit    int not null,
    created_at    timestamptz not null default now(),
    updated_at    timestamptz not null default now()
);

create table if not exists integration_tokens (
    id         uuid primary key default gen_random_uuid(),
    provider   text not null unique,
    token      text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
