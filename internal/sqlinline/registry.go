package sqlinline

const QCreateRegistryKV = `--sql 5169ff97-617f-49cd-95b2-e87e4adfe7db
create table if not exists registry_kv (
  key text primary key,
  value bytea not null,
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);
`

const QCreateRegistryIndex = `--sql ad2c4577-f79b-4b08-8aa1-a9342738f525
create table if not exists registry_index (
  index_key text not null,
  member text not null,
  position bigserial,
  primary key (index_key, member)
);
`

const QSelectRegistryValue = `--sql 1b6b94eb-4006-4f35-9a3a-a240c788890a
select value
from registry_kv
where key = $1::text
limit 1;
`

const QInsertRegistryValue = `--sql 264044a0-9f54-49a5-9cfd-522a7f1f4645
insert into registry_kv(key, value, created_at, updated_at)
values ($1::text, $2::bytea, now(), now())
on conflict (key) do nothing;
`

const QSwapRegistryValue = `--sql 103d4af3-2877-4ca7-9e76-1d8080e7cc5d
update registry_kv
set value = $3::bytea,
    updated_at = now()
where key = $1::text
  and value = $2::bytea;
`

const QInsertRegistryIndex = `--sql 7020edcc-d00f-4215-9760-0f5f48558015
insert into registry_index(index_key, member)
values ($1::text, $2::text)
on conflict (index_key, member) do nothing;
`

const QListRegistryIndex = `--sql 16dc699e-f904-45d2-8527-31f74a1135eb
select member
from registry_index
where index_key = $1::text
order by position asc;
`
