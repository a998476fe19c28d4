package sqlinline

const QEnsurePredictionLedger = `--sql 0c1f6d0e-2b7a-4d8e-9a53-6f2a1b7c9e40
create table if not exists prediction_ledger (
    id text primary key,
    model text not null,
    version text not null,
    status text not null,
    provider_status text not null default '',
    idempotency_key text,
    input jsonb not null default '{}'::jsonb,
    output jsonb not null default '[]'::jsonb,
    error_message text not null default '',
    created_at timestamptz not null default now(),
    completed_at timestamptz,
    checked_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
create index if not exists prediction_ledger_open_idx
    on prediction_ledger (checked_at)
    where status in ('queued', 'running');
`

const QInsertPrediction = `--sql 5e2b8c7a-1d3f-4b6e-8a90-2c4d6e8f0a12
insert into prediction_ledger (id, model, version, status, provider_status, idempotency_key, input, created_at)
values ($1::text, $2::text, $3::text, $4::text, $5::text, nullif($6::text, ''), coalesce($7::jsonb, '{}'::jsonb), coalesce($8::timestamptz, now()))
on conflict (id) do nothing;
`

const QUpdatePredictionStatus = `--sql 9b3e1f2a-7c6d-4e5f-a0b1-c2d3e4f5a6b7
update prediction_ledger
set status = $2::text,
    provider_status = $3::text,
    output = coalesce($4::jsonb, output),
    error_message = $5::text,
    completed_at = $6::timestamptz,
    checked_at = now(),
    updated_at = now()
where id = $1::text
  and status not in ('succeeded', 'failed');
`

const QSelectPrediction = `--sql 3d7a9c1e-5b2f-4a8d-b6c0-e1f2a3b4c5d6
select id, model, version, status, provider_status, coalesce(idempotency_key, ''), output, error_message, created_at, completed_at
from prediction_ledger
where id = $1::text
limit 1;
`

const QClaimOpenPredictions = `--sql 7f8e9d0c-1b2a-4c3d-8e5f-6a7b8c9d0e1f
with due as (
    select id
    from prediction_ledger
    where status in ('queued', 'running')
      and checked_at <= now() - make_interval(secs => $1::double precision)
    order by checked_at asc
    for update skip locked
    limit $2::int
),
touched as (
    update prediction_ledger
    set checked_at = now()
    where id in (select id from due)
    returning id, model, version, status, created_at
)
select id, model, version, status, created_at from touched;
`
